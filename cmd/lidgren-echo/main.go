// Command lidgren-echo is a minimal two-sided sample: run with
// -listen to act as a server that echoes every data message it
// receives back on a reliable-ordered channel, or with -connect to
// dial one, send five test messages and wait for their echoes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lidgren-go/lidgren"
)

func main() {
	listen := flag.Bool("listen", false, "run as a listening peer")
	connect := flag.String("connect", "", "remote host:port to connect to")
	port := flag.Int("port", 14242, "local UDP port")
	appID := flag.String("app", "lidgren-echo", "application identifier")
	flag.Parse()

	cfg := lidgren.NewConfiguration(*appID)
	cfg.Port = *port
	cfg.AutoExpandMTU = true

	p := lidgren.NewPeer(cfg)
	if err := p.Start(); err != nil {
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *listen {
		go runEchoServer(p)
	} else if *connect != "" {
		go runEchoClient(p, *connect)
	}

	<-sigCh
	p.Shutdown("shutting down")
	time.Sleep(200 * time.Millisecond)
}

func runEchoServer(p *lidgren.Peer) {
	ctx := context.Background()
	for {
		msg, err := p.ReadMessage(ctx)
		if err != nil {
			return
		}
		if msg.IsData() && msg.SenderConn != nil {
			_ = msg.SenderConn.Send(lidgren.ReliableOrdered, msg.Channel, msg.Payload.Data())
		}
		p.ReleaseMessage(msg)
	}
}

func runEchoClient(p *lidgren.Peer, remote string) {
	conn, err := p.Connect(remote, nil)
	if err != nil {
		return
	}
	ctx := context.Background()
	for conn.Status() != lidgren.StatusConnected {
		time.Sleep(20 * time.Millisecond)
		if conn.Status() == lidgren.StatusDisconnected {
			return
		}
	}

	b := []byte("hello from lidgren-echo")
	for i := 0; i < 5; i++ {
		_ = conn.Send(lidgren.ReliableOrdered, 0, b)
	}

	for received := 0; received < 5; {
		msg, err := p.ReadMessage(ctx)
		if err != nil {
			return
		}
		if msg.IsData() {
			received++
		}
		p.ReleaseMessage(msg)
	}
}
