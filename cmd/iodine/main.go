package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vharitonsky/iniflags"

	"github.com/ejtagle/iodine/client"
)

func main() {
	domain := flag.String("domain", "", "Topdomain of the tunnel server (required)")
	password := flag.String("password", "", "Tunnel password (required)")
	resolver := flag.String("resolver", "127.0.0.1:53", "DNS resolver address (ip:port)")
	timeout := flag.Duration("timeout", 2*time.Second, "Per-query timeout")
	retries := flag.Int("retry", 3, "Maximum retries per query")
	poll := flag.Duration("poll", 500*time.Millisecond, "Downstream poll interval")
	debug := flag.Bool("debug", false, "Verbose logging")
	iniflags.Parse()

	if *domain == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: iodine -domain <topdomain> -password <password>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	t := client.New(client.Config{
		Resolver:     *resolver,
		Topdomain:    *domain,
		Password:     *password,
		Timeout:      *timeout,
		MaxRetries:   *retries,
		PollInterval: *poll,
	})
	t.Deliver = func(data []byte, compressed bool) {
		os.Stdout.Write(data)
	}

	if err := t.Login(); err != nil {
		log.WithError(err).Fatal("login failed")
	}

	done := make(chan struct{})
	go t.Run(done)

	// Each stdin line becomes one tunnel message.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			line := append(scanner.Bytes(), '\n')
			if err := t.Send(line, false); err != nil {
				log.WithError(err).Warn("send window full, dropping line")
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(done)
}
