package config

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/winter-snowfall/wookiee-unicaster/internal/util"
)

// Flags holds the parsed CLI arguments before they are resolved and
// merged onto a base Config (file-or-default) in Resolve.
type Flags struct {
	Mode      string
	Interface string
	LocalIP   string

	AppPort     int
	AppDestPort int

	PeerSourceIP string
	DestIP       string

	PeerCount           int
	ServerRelayBasePort int
	ClientRelayBasePort int

	Quiet bool

	ConfigPath string
	APIAddr    string
	Stats      bool
}

// Parse parses args (normally os.Args[1:]) into Flags, installing an
// argparse-style Usage banner grouped into required/optional arguments.
func Parse(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("wookiee-unicaster", flag.ContinueOnError)
	f := &Flags{}

	fs.StringVar(&f.Mode, "m", "", "operating mode: server or client (required)")
	fs.StringVar(&f.Interface, "e", "", "bind to this network interface's IPv4 address")
	fs.StringVar(&f.LocalIP, "l", "", "bind to this explicit IPv4 address")
	fs.IntVar(&f.AppPort, "i", 0, "application listening port (server mode)")
	fs.IntVar(&f.AppDestPort, "o", 0, "application destination port (client mode)")
	fs.StringVar(&f.PeerSourceIP, "s", "", "server public IP (client mode)")
	fs.StringVar(&f.DestIP, "d", "", "game server IP (client mode)")
	fs.IntVar(&f.PeerCount, "p", DefaultPeerCount, "peer count, identical on both sides")
	fs.IntVar(&f.ServerRelayBasePort, "server-relay-base-port", DefaultServerRelayBasePort, "base relay port on the server side")
	fs.IntVar(&f.ClientRelayBasePort, "client-relay-base-port", DefaultClientRelayBasePort, "base relay port on the client side")
	fs.BoolVar(&f.Quiet, "q", false, "quiet mode: raise console log level, keep file/ledger sinks at full verbosity")
	fs.StringVar(&f.ConfigPath, "config", "wookiee-unicaster.conf", "path to the keyed configuration file")
	fs.StringVar(&f.APIAddr, "api-addr", "", "host:port to serve the REST status endpoint on (unset disables it)")
	fs.BoolVar(&f.Stats, "stats", false, "print a one-shot tabular slot report and exit")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "wookiee-unicaster: bidirectional UDP relay for Direct-IP LAN games over the internet")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "usage: wookiee-unicaster -m server|client (-e <iface> | -l <ip>) [options]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "required arguments:")
	fmt.Fprintln(os.Stderr, "  -m server|client        operating mode")
	fmt.Fprintln(os.Stderr, "  -e <iface> | -l <ip>    local bind address, exactly one of the two")
	fmt.Fprintln(os.Stderr, "  -i <port>               application listening port (server mode)")
	fmt.Fprintln(os.Stderr, "  -o <port>               application destination port (client mode)")
	fmt.Fprintln(os.Stderr, "  -s <ip>                 server public IP (client mode)")
	fmt.Fprintln(os.Stderr, "  -d <ip>                 game server IP (client mode)")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "optional arguments:")
	fs.VisitAll(func(fl *flag.Flag) {
		switch fl.Name {
		case "m", "e", "l", "i", "o", "s", "d":
			return
		}
		fmt.Fprintf(os.Stderr, "  -%-24s %s (default %q)\n", fl.Name, fl.Usage, fl.DefValue)
	})
}

// Resolve builds a Config from cfg (already layered with file-or-default
// values) overlaid by CLI flags, which always win per §10.2. It performs
// the -e/-l interface-to-address resolution described in §6.
func Resolve(cfg *Config, f *Flags) error {
	cfg.Role = Role(f.Mode)

	if f.Interface != "" {
		ip, err := util.ResolveInterfaceIPv4(f.Interface)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg.Interface = f.Interface
		cfg.LocalIP = ip
	} else if f.LocalIP != "" {
		ip := net.ParseIP(f.LocalIP)
		if ip == nil {
			return fmt.Errorf("config: invalid -l address %q", f.LocalIP)
		}
		cfg.LocalIP = ip.To4()
	}

	if f.AppPort != 0 {
		cfg.AppPort = f.AppPort
	}
	if f.AppDestPort != 0 {
		cfg.AppDestPort = f.AppDestPort
	}
	if f.PeerSourceIP != "" {
		ip := net.ParseIP(f.PeerSourceIP)
		if ip == nil {
			return fmt.Errorf("config: invalid -s address %q", f.PeerSourceIP)
		}
		cfg.PeerSourceIP = ip.To4()
	}
	if f.DestIP != "" {
		ip := net.ParseIP(f.DestIP)
		if ip == nil {
			return fmt.Errorf("config: invalid -d address %q", f.DestIP)
		}
		cfg.DestIP = ip.To4()
	}

	cfg.PeerCount = f.PeerCount
	cfg.ServerRelayBasePort = f.ServerRelayBasePort
	cfg.ClientRelayBasePort = f.ClientRelayBasePort
	cfg.Quiet = f.Quiet
	cfg.API.Addr = orDefault(f.APIAddr, cfg.API.Addr)

	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
