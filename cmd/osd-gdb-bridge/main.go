package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/osd-toolchain/gdb-bridge/pkg/cdm"
	"github.com/osd-toolchain/gdb-bridge/pkg/gdbserver"
	"github.com/osd-toolchain/gdb-bridge/pkg/hostmod"
	"github.com/osd-toolchain/gdb-bridge/pkg/mam"
	"github.com/osd-toolchain/gdb-bridge/pkg/modconfig"
	"github.com/osd-toolchain/gdb-bridge/pkg/packet"
	"github.com/osd-toolchain/gdb-bridge/pkg/scm"
	"github.com/osd-toolchain/gdb-bridge/pkg/transport"
)

const defaultHostCtrl = "tcp://0.0.0.0:9537"
const defaultPort = 5555

func main() {
	hostctrl := flag.String("hostctrl", defaultHostCtrl, "Host Controller dealer endpoint URL")
	port := flag.Int("port", defaultPort, "RSP TCP listen port")
	cdmAddrFlag := flag.String("cdm-addr", "", "CDM DI address (hex or decimal), required unless --modmap is given")
	mamAddrFlag := flag.String("mam-addr", "", "MAM DI address (hex or decimal), required unless --modmap is given")
	subnet := flag.Uint("subnet", 0, "subnet number to resolve from --modmap")
	modmapPath := flag.String("modmap", "", "optional .ini file mapping subnet -> scm/cdm/mam DI addresses")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "osd-gdb-bridge: invalid --log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger := log.New()
	logger.SetLevel(level)
	entry := log.NewEntry(logger)

	cdmAddr, mamAddr, err := resolveModuleAddrs(*modmapPath, uint16(*subnet), *cdmAddrFlag, *mamAddrFlag)
	if err != nil {
		entry.Errorf("module address resolution failed: %v", err)
		os.Exit(1)
	}

	endpoint := transport.NewZMQDealer()
	eventCB := func(_ any, pkt *packet.Packet) {
		ev, err := cdm.HandleEvent(pkt)
		if err != nil {
			entry.Warnf("[CDM] ignoring undecodable event from 0x%04x: %v", pkt.GetSrc(), err)
			return
		}
		if ev.Stall {
			entry.Infof("[CDM] core behind 0x%04x stalled", pkt.GetSrc())
		} else {
			entry.Infof("[CDM] core behind 0x%04x running", pkt.GetSrc())
		}
	}
	host := hostmod.New(entry, endpoint, eventCB, nil)
	if err := host.Connect(*hostctrl); err != nil {
		entry.Errorf("could not connect to host controller at %s: %v", *hostctrl, err)
		os.Exit(1)
	}
	defer host.Disconnect()

	cdmDesc, err := cdm.GetDesc(host, cdmAddr)
	if err != nil {
		entry.Errorf("could not describe CDM at 0x%04x: %v", cdmAddr, err)
		os.Exit(1)
	}

	maxPktLen := 0
	if info, err := scm.GetSubnetInfo(host, uint16(*subnet)); err != nil {
		entry.Warnf("could not read subnet info, using default MAM chunk size: %v", err)
	} else {
		maxPktLen = int(info.MaxPktLen)
	}
	mamDesc := mam.NewDesc(mamAddr, maxPktLen)

	server := gdbserver.New(entry, host, cdmDesc, mamDesc)
	addr := fmt.Sprintf(":%d", *port)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		entry.Info("shutdown signal received")
		server.Close()
		host.Disconnect()
	case err := <-serverDone:
		entry.Errorf("gdb server stopped: %v", err)
		os.Exit(1)
	}
}

// resolveModuleAddrs prefers the ini-based module map when given, falling
// back to the explicit CLI flags.
func resolveModuleAddrs(modmapPath string, subnet uint16, cdmFlag, mamFlag string) (cdmAddr, mamAddr uint16, err error) {
	if modmapPath != "" {
		m, err := modconfig.Load(modmapPath)
		if err != nil {
			return 0, 0, err
		}
		mods, ok := m[subnet]
		if !ok {
			return 0, 0, fmt.Errorf("osd-gdb-bridge: --modmap has no entry for subnet %d", subnet)
		}
		return mods.CDM, mods.MAM, nil
	}

	if cdmFlag == "" || mamFlag == "" {
		return 0, 0, fmt.Errorf("osd-gdb-bridge: --cdm-addr and --mam-addr are required when --modmap is not given")
	}
	cdmAddr64, err := strconv.ParseUint(cdmFlag, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("osd-gdb-bridge: invalid --cdm-addr %q: %w", cdmFlag, err)
	}
	mamAddr64, err := strconv.ParseUint(mamFlag, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("osd-gdb-bridge: invalid --mam-addr %q: %w", mamFlag, err)
	}
	return uint16(cdmAddr64), uint16(mamAddr64), nil
}
