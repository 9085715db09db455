// Package main contains an entrypoint for running a signaling node.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rtchub/sigsfu/cmd/signal/server"
	"github.com/rtchub/sigsfu/pkg/engine"
	"github.com/rtchub/sigsfu/pkg/logger"
	"github.com/rtchub/sigsfu/pkg/sfu"
)

type webConfig struct {
	Dir string `mapstructure:"dir"`
}

// Config defines parameters for configuring the signaling node
type Config struct {
	sfu.Config `mapstructure:",squash"`
	Web        webConfig           `mapstructure:"web"`
	LogConfig  logger.GlobalConfig `mapstructure:"log"`
}

var (
	conf           = Config{}
	file           string
	cert           string
	key            string
	addr           string
	metricsAddr    string
	paddr          string
	verbosityLevel int

	log = logger.New()
)

const (
	portRangeLimit = 100
)

func showHelp() {
	fmt.Printf("Usage:%s {params}\n", os.Args[0])
	fmt.Println("      -c {config file}")
	fmt.Println("      -cert {cert file}")
	fmt.Println("      -key {key file}")
	fmt.Println("      -a {listen addr}")
	fmt.Println("      -m {metrics addr}")
	fmt.Println("      -paddr {pprof listen addr}")
	fmt.Println("      -v {0-10} (verbosity level, default 0)")
	fmt.Println("      -h (show help info)")
}

func load() bool {
	_, err := os.Stat(file)
	if err != nil {
		return false
	}

	viper.SetConfigFile(file)
	viper.SetConfigType("toml")

	err = viper.ReadInConfig()
	if err != nil {
		log.Error(err, "config file read failed", "file", file)
		return false
	}
	err = viper.GetViper().Unmarshal(&conf)
	if err != nil {
		log.Error(err, "config file loaded failed", "file", file)
		return false
	}

	if len(conf.WebRTC.ICEPortRange) != 0 && len(conf.WebRTC.ICEPortRange) != 2 {
		log.Error(nil, "config file loaded failed. webrtc port must be [min,max]", "file", file)
		return false
	}

	if len(conf.WebRTC.ICEPortRange) == 2 && conf.WebRTC.ICEPortRange[1]-conf.WebRTC.ICEPortRange[0] < portRangeLimit {
		log.Error(nil, "config file loaded failed. webrtc port must be [min, max] and max - min >= portRangeLimit", "file", file, "portRangeLimit", portRangeLimit)
		return false
	}

	log.V(0).Info("Config file loaded", "file", file)
	return true
}

func parse() bool {
	flag.StringVar(&file, "c", "config.toml", "config file")
	flag.StringVar(&cert, "cert", "", "cert file")
	flag.StringVar(&key, "key", "", "key file")
	flag.StringVar(&addr, "a", ":7000", "address to use for signaling")
	flag.StringVar(&metricsAddr, "m", ":8100", "address to use for metrics")
	flag.StringVar(&paddr, "paddr", "", "pprof listening address")
	flag.IntVar(&verbosityLevel, "v", -1, "verbosity level, higher value - more logs")
	help := flag.Bool("h", false, "help info")
	flag.Parse()

	if !load() {
		return false
	}

	if *help {
		return false
	}
	return true
}

func startMetrics(addr string) error {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler: m,
	}

	metricsLis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error(err, "cannot bind to metrics endpoint", "addr", addr)
		return err
	}
	log.Info("Metrics Listening", "addr", addr)

	return srv.Serve(metricsLis)
}

func main() {
	if !parse() {
		showHelp()
		os.Exit(-1)
	}

	// Check that the -v is not set (default -1)
	if verbosityLevel < 0 {
		verbosityLevel = conf.LogConfig.V
	}
	logger.SetGlobalOptions(logger.GlobalConfig{V: verbosityLevel})
	sfu.Logger = log

	log.Info("--- Starting SFU signaling node ---")

	// No routing context can exist without the media engine, so failure
	// here is fatal.
	e, err := engine.NewWebRTCEngine(conf.WebRTC)
	if err != nil {
		log.Error(err, "media engine init failed")
		os.Exit(1)
	}
	s, err := sfu.NewSFU(conf.Config, e)
	if err != nil {
		log.Error(err, "sfu init failed")
		os.Exit(1)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error(err, "websocket upgrade failed")
			return
		}
		defer c.Close()

		p := server.NewJSONSignal(s, log)
		defer p.Close()

		// AsyncHandler so the nested getDtlsParametersForConsumer
		// round trip inside consume does not deadlock the connection.
		jc := jsonrpc2.NewConn(r.Context(), websocketjsonrpc2.NewObjectStream(c), jsonrpc2.AsyncHandler(p))
		if err := p.Bind(r.Context(), jc, s); err != nil {
			log.Error(err, "binding peer failed", "client", p.ID())
			jc.Close()
			return
		}
		<-jc.DisconnectNotify()
	}))

	if conf.Web.Dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(conf.Web.Dir)))
	}

	if paddr != "" {
		go func() {
			log.Info("PProf Listening", "addr", paddr)
			_ = http.ListenAndServe(paddr, http.DefaultServeMux)
		}()
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		if key != "" && cert != "" {
			log.Info("Listening", "addr", "https://["+addr+"]")
			return http.ListenAndServeTLS(addr, cert, key, mux)
		}
		log.Info("Listening", "addr", "http://["+addr+"]")
		return http.ListenAndServe(addr, mux)
	})
	g.Go(func() error {
		return startMetrics(metricsAddr)
	})
	if err := g.Wait(); err != nil {
		log.Error(err, "server exited")
		os.Exit(1)
	}
}
