package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/malspp"
	"avaneesh/malspp-go/pkg/transport"
)

var (
	metricsAddr string
	echo        bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Serve the configured endpoints until interrupted",
	Long: `Open the configured channel, register every configured endpoint and
print each delivered message. With --echo, initiator stages are answered
with their own body elements.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addrs, err := cfg.EndpointAddresses()
		if err != nil {
			return err
		}
		if len(addrs) == 0 {
			return errors.New("no endpoints configured")
		}

		m, epConfig, err := startNode()
		if err != nil {
			return err
		}
		defer m.Shutdown()

		out := cmd.OutOrStdout()
		handler := malspp.HandlerFunc(func(d *malspp.Delivery) {
			printDelivery(out, d)
			if echo {
				answer(ctx, d)
			}
		})
		for _, addr := range addrs {
			if _, err := m.CreateEndpoint(cfg.Name, addr, epConfig, handler); err != nil {
				return err
			}
			fmt.Fprintf(out, "Listening on %s\n", addr.URI())
		}

		if metricsAddr == "" {
			metricsAddr = cfg.Metrics.Address
		}
		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr, m)
			defer srv.Close()
			fmt.Fprintf(out, "Metrics on http://%s/metrics\n", metricsAddr)
		}

		<-ctx.Done()
		fmt.Fprintln(out, "Shutting down")
		return nil
	},
}

// startNode creates a manager with one transport built from the config
// and returns it with the endpoint settings of the config.
func startNode() (*malspp.Manager, malspp.EndpointConfig, error) {
	ec := malspp.EndpointConfig{
		Compression: cfg.CompressionMode(),
		Timestamps:  true,
	}
	tc, err := cfg.TransportConfig()
	if err != nil {
		return nil, ec, err
	}
	reg, err := loadRegistry()
	if err != nil {
		return nil, ec, err
	}
	physical, err := cfg.NewPhysicalChannel()
	if err != nil {
		return nil, ec, err
	}

	var opts []transport.Option
	if reg != nil {
		opts = append(opts, transport.WithRegistry(reg))
		ec.Registry = reg
	}
	m := malspp.NewManager()
	if _, err := m.AddTransport(cfg.Name, tc, physical, opts...); err != nil {
		return nil, ec, err
	}
	return m, ec, nil
}

func serveMetrics(addr string, m *malspp.Manager) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics server: %v\n", err)
		}
	}()
	return srv
}

func printDelivery(w io.Writer, d *malspp.Delivery) {
	fmt.Fprintf(w, "%s %s\n", d.Received.Format(time.RFC3339Nano), d)
	fmt.Fprintf(w, "  %s\n", d.Header)
	if d.Header.IsError {
		var info any
		code, err := d.DecodeError(&info)
		if err != nil {
			fmt.Fprintf(w, "  error body: %v\n", err)
			return
		}
		fmt.Fprintf(w, "  error %d: %v\n", code, info)
		return
	}
	elements, err := d.Elements()
	if err != nil {
		fmt.Fprintf(w, "  body: %v\n", err)
		return
	}
	fmt.Fprintf(w, "  body: %v\n", elements)
}

// answer replies to an initiator stage with its own elements. Patterns
// with an acknowledgement get one before the response.
func answer(ctx context.Context, d *malspp.Delivery) {
	if !d.Header.SDUType.Initiator() || d.Interaction == mal.InteractionSend || d.Interaction == mal.InteractionPubSub {
		return
	}
	elements, err := d.Elements()
	if err != nil {
		return
	}

	type step struct {
		stage mal.Stage
		body  []any
	}
	var steps []step
	switch d.Interaction {
	case mal.InteractionSubmit:
		steps = []step{{mal.StageSubmitAck, nil}}
	case mal.InteractionRequest:
		steps = []step{{mal.StageRequestResponse, elements}}
	case mal.InteractionInvoke:
		steps = []step{{mal.StageInvokeAck, nil}, {mal.StageInvokeResponse, elements}}
	case mal.InteractionProgress:
		steps = []step{{mal.StageProgressAck, nil}, {mal.StageProgressUpdate, elements}, {mal.StageProgressResponse, elements}}
	}
	for _, s := range steps {
		if err := d.Reply(ctx, s.stage, false, s.body...); err != nil {
			fmt.Printf("reply %s stage %d: %v\n", d.Interaction, s.stage, err)
			return
		}
	}
}

func init() {
	listenCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	listenCmd.Flags().BoolVar(&echo, "echo", false, "answer every interaction with its own body")
	rootCmd.AddCommand(listenCmd)
}
