package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagListenAddress string
	flagRtpAddress    string
	flagRtpPort       int
	flagHelp          bool
	flagVersion       bool
)

func init() {
	flag.StringVarP(&flagListenAddress, "listen", "l", ":8080", "HTTP/WebSocket signaling address")
	flag.StringVarP(&flagRtpAddress, "rtp-address", "a", "0.0.0.0", "RTP ingress bind address")
	flag.IntVarP(&flagRtpPort, "rtp-port", "p", 5004, "RTP ingress bind port")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Restream one RTP/H264 stream to any number of WebRTC browser peers

Usage: restreamerd [OPTION]...

Ingress:
  -a, --rtp-address=ADDR  RTP ingress bind address (default: 0.0.0.0)
  -p, --rtp-port=NUM      RTP ingress bind port (default: 5004)

Signaling:
  -l, --listen=ADDR       HTTP/WebSocket signaling address (default: :8080)

Logging:
  RESTREAMER_LOGLEVEL=... Comma-separated tag=level directives, e.g.
                          "pc=debug,mux=warn" or a bare level to set the
                          default (error, warn, info, debug)

Miscellaneous:
  -h, --help              Prints this help message and exits
  -v, --version           Prints version information and exits`

// help prints a banner and usage information, then exits.
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	c := color.New(color.FgCyan)

	r.Printf(" __ ")
	y.Printf(" ___ ")
	c.Printf("___ ")
	r.Printf(" _ ")
	y.Println("____ _ _ ")

	r.Printf("|__)")
	y.Printf("|___ ")
	c.Printf("|___ ")
	r.Printf("|_|")
	y.Println("|___ |_| |")

	r.Printf("| \\ ")
	y.Printf("|___ ")
	c.Printf("___| ")
	r.Printf("| |")
	y.Println("|___ | | |")

	fmt.Println(helpString)
}
