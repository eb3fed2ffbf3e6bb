package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golang/glog"

	"github.com/bringyour/mirror/mirror"
)

const DefaultSinkUrl = "ws://127.0.0.1:8080/counter"
const DefaultStatusUrl = "http://127.0.0.1:8080/status"

const LocalVersion = "0.0.0-local"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Mirror control.

The default urls are:
    sink:   %s
    status: %s

Usage:
    mirrorctl serve [--config=<path>] [--address=<address>] [--v=<level>]
    mirrorctl sink [--url=<url>] [--jwt=<jwt>]
        [--message_count=<message_count>]
        [--click=<id>]
    mirrorctl token [--path=<path>] [--ttl=<ttl>] [--signing_key=<signing_key>]
    mirrorctl status [--status_url=<status_url>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --config=<path>                  Yaml server config.
    --address=<address>              Listen address. Overrides the config.
    --v=<level>                      Log verbosity [default: 0].
    --url=<url>                      Mirror url.
    --jwt=<jwt>                      Upgrade JWT.
    --message_count=<message_count>  Print this many batches then exit.
    --click=<id>                     Send a click event to this node after the first batch.
    --path=<path>                    Path the token is valid for. All paths when omitted.
    --ttl=<ttl>                      Token lifetime [default: 24h].
    --signing_key=<signing_key>      HS256 signing key. Prompted when omitted.
    --status_url=<status_url>        Status url of a running server.`,
		DefaultSinkUrl,
		DefaultStatusUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if sink_, _ := opts.Bool("sink"); sink_ {
		sink(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if status_, _ := opts.Bool("status"); status_ {
		status(opts)
	}
}

func serve(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	if level, err := opts.String("--v"); err == nil {
		flag.Set("v", level)
	}
	defer glog.Flush()

	configPath, _ := opts.String("--config")
	config, err := mirror.LoadServerConfig(configPath)
	if err != nil {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}
	if address, err := opts.String("--address"); err == nil && address != "" {
		config.Address = address
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle Ctrl+C for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		select {
		case <-cancelCtx.Done():
		case sig := <-signals:
			glog.Infof("[main]signal %s\n", sig)
			cancel()
		}
	}()

	mirror.RegisterMetrics()

	registry := mirror.NewRegistry()
	PublishDemo(registry)

	server := mirror.NewServer(cancelCtx, registry, config.Settings)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", &Status{server: server})
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    config.Address,
		Handler: mux,
	}

	Out.Printf(
		"Mirror %s on %s (%s)\n",
		RequireVersion(),
		config.Address,
		strings.Join(registry.Paths(), ", "),
	)

	go func() {
		defer cancel()
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			Err.Printf("serve error: %s\n", err)
		}
	}()

	<-cancelCtx.Done()

	// hijacked connections are not tracked by the http server. close them through the sessions
	server.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	server.Wait()
}

// listen for batches
func sink(opts docopt.Opts) {
	url, err := opts.String("--url")
	if err != nil || url == "" {
		url = DefaultSinkUrl
	}

	var messageCount int
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	} else {
		messageCount = -1
	}

	header := http.Header{}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", jwt))
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{mirror.DefaultSubprotocol},
	}
	conn, response, err := dialer.Dial(url, header)
	if err != nil {
		if response != nil {
			Err.Printf("dial %s error = %s (%s)\n", url, err, response.Status)
		} else {
			Err.Printf("dial %s error = %s\n", url, err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	clickId, _ := opts.String("--click")

	for i := 0; messageCount < 0 || i < messageCount; i += 1 {
		messageType, batchBytes, err := conn.ReadMessage()
		if err != nil {
			Err.Printf("read error = %s\n", err)
			return
		}
		if messageType != websocket.TextMessage {
			Err.Printf("unexpected message type %d\n", messageType)
			return
		}
		messages, err := mirror.DecodeBatch(batchBytes)
		if err != nil {
			Err.Printf("%s\n", err)
			return
		}
		Out.Printf("batch %d (%d messages)\n", i, len(messages))
		for _, message := range messages {
			Out.Printf("    %s\n", message)
		}

		if i == 0 && clickId != "" {
			eventBytes, err := mirror.Event(clickId, "click", mirror.List()).MarshalJSON()
			if err != nil {
				panic(err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, eventBytes); err != nil {
				Err.Printf("write error = %s\n", err)
				return
			}
		}
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// print an upgrade jwt
func token(opts docopt.Opts) {
	path, _ := opts.String("--path")

	ttl := 24 * time.Hour
	if ttlStr, err := opts.String("--ttl"); err == nil {
		ttl, err = time.ParseDuration(ttlStr)
		if err != nil {
			Err.Printf("Invalid ttl (%s).\n", err)
			os.Exit(1)
		}
	}

	var signingKey string
	if signingKeyAny := opts["--signing_key"]; signingKeyAny != nil {
		signingKey = signingKeyAny.(string)
	} else if envSigningKey := os.Getenv(mirror.EnvJwtSigningKey); envSigningKey != "" {
		signingKey = envSigningKey
	} else {
		fmt.Print("Enter signing key: ")
		signingKeyBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		signingKey = string(signingKeyBytes)
		fmt.Printf("\n")
	}
	if signingKey == "" {
		Err.Printf("Signing key required.\n")
		os.Exit(1)
	}

	jwt, err := mirror.NewUpgradeJwt([]byte(signingKey), path, ttl)
	if err != nil {
		panic(err)
	}
	Out.Printf("%s\n", jwt)
}

// print the live sessions of a running server
func status(opts docopt.Opts) {
	statusUrl, err := opts.String("--status_url")
	if err != nil || statusUrl == "" {
		statusUrl = DefaultStatusUrl
	}

	result, err := GetStatus(statusUrl)
	if err != nil {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}
	Out.Printf("%s %s on %s\n", result.Status, result.Version, result.Host)
	Out.Printf("paths: %s\n", strings.Join(result.Paths, ", "))
	Out.Printf("sessions: %d\n", result.Sessions)
	for _, sessionId := range result.SessionIds {
		Out.Printf("    %s\n", sessionId)
	}
}

func RequireVersion() string {
	if version := os.Getenv("MIRROR_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
