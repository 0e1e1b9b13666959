package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
	"github.com/vharitonsky/iniflags"

	"github.com/ejtagle/iodine/server"
)

func main() {
	domain := flag.String("domain", "", "Topdomain the tunnel answers for (required)")
	password := flag.String("password", "", "Tunnel password (required)")
	listen := flag.String("listen", ":53", "Address to listen on (e.g. :53, 127.0.0.1:5353)")
	sessionTimeout := flag.Duration("session-timeout", 5*time.Minute, "Session inactivity timeout")
	echo := flag.Bool("echo", false, "Echo upstream messages back downstream (loopback test)")
	debug := flag.Bool("debug", false, "Verbose logging")
	iniflags.Parse()

	if *domain == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: iodined -domain <topdomain> -password <password>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	store := server.NewSessionStore(*sessionTimeout)
	handler := &server.Handler{
		Topdomain: *domain,
		Password:  *password,
		Store:     store,
	}
	handler.Deliver = func(sid string, data []byte, compressed bool) {
		log.WithFields(log.Fields{
			"sid": sid, "bytes": len(data), "compressed": compressed,
		}).Info("upstream message")
		if *echo {
			if s := store.Get(sid); s != nil && !s.Queue(data, compressed) {
				log.WithField("sid", sid).Warn("echo dropped: send window full")
			}
		}
	}

	srv := &dns.Server{
		Addr:    *listen,
		Net:     "udp",
		Handler: handler,
	}
	go func() {
		log.WithFields(log.Fields{"listen": *listen, "domain": *domain}).Info("tunnel server up")
		if err := srv.ListenAndServe(); err != nil {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	srv.Shutdown()
}
