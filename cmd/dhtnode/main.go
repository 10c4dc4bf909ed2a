// Command dhtnode runs a standalone mainline DHT participant: it binds a UDP
// socket, bootstraps onto the public network, logs routing and peer events,
// and optionally runs a single get_peers lookup before serving until
// interrupted.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cowtools/mainlinedht/dht"
	"github.com/cowtools/mainlinedht/kademlia"
)

func main() {
	port := flag.Int("port", 6881, "UDP port to bind")
	bootstrap := flag.String("bootstrap", "", "comma-separated host:port bootstrap list, overrides the default")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	lookupHex := flag.String("lookup", "", "40-character hex info-hash to run a get_peers lookup for, then print discovered peers")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dhtnode: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := dht.Config{Port: *port}
	if *bootstrap != "" {
		cfg.BootstrapAddrs = splitAddrs(*bootstrap)
	}

	n, err := dht.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct node")
	}

	go logEvents(n)

	if err := n.Listen(); err != nil {
		logrus.WithError(err).Fatal("failed to start listening")
	}
	logrus.WithField("node_id", n.ID().String()).Info("dhtnode running")

	if *lookupHex != "" {
		runLookup(n, *lookupHex)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	if err := n.Close(); err != nil {
		logrus.WithError(err).Warn("error during shutdown")
	}
}

func splitAddrs(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func logEvents(n *dht.Node) {
	for ev := range n.Events() {
		switch e := ev.(type) {
		case dht.ListeningEvent:
			logrus.WithField("port", e.Port).Debug("listening event")
		case dht.NodeSeenEvent:
			logrus.WithField("endpoint", e.Endpoint.String()).WithField("id", e.ID.String()).Debug("node seen")
		case dht.PeerFoundEvent:
			logrus.WithField("endpoint", e.Endpoint.String()).WithField("info_hash", hex.EncodeToString(e.InfoHash[:])).Info("peer found")
		case dht.WarningEvent:
			logrus.WithError(e.Err).Warn("dht warning")
		case dht.ErrorEvent:
			logrus.WithError(e.Err).Error("dht error")
		}
	}
}

func runLookup(n *dht.Node, hexHash string) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil || len(raw) != kademlia.IDLength {
		logrus.WithField("lookup", hexHash).Error("invalid info-hash, expected 40 hex characters")
		return
	}
	target, err := kademlia.NodeIDFromBytes(raw)
	if err != nil {
		logrus.WithError(err).Error("invalid info-hash")
		return
	}

	logrus.WithField("target", target.String()).Info("running get_peers lookup")
	n.Lookup(target, dht.GetPeers, nil)

	var ih [20]byte
	copy(ih[:], raw)
	peers := n.Peers(ih)
	if len(peers) == 0 {
		fmt.Println("no peers found")
		return
	}
	for _, p := range peers {
		fmt.Printf("%s:%d\n", p.IP().String(), p.Port())
	}
}
