package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/isdn"
	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/endorses/isdnq931/internal/pkg/pcapwriter"
	"github.com/endorses/isdnq931/internal/pkg/tap"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var MonitorCmd = &cobra.Command{
	Use:   "monitor [capture...]",
	Short: "Follow the calls seen on a D channel tap",
	Long: `Follow the calls seen in packet captures of a D channel and print their
events. Captures given as arguments carry both directions (Linux LAPD, or
H.323 TPKT where the side using --port is taken as network). --net and
--cpe name captures holding a single direction of a passive tap.`,
	RunE: runMonitor,
}

var (
	netFile     string
	cpeFile     string
	port        uint16
	circuits    string
	metricsAddr string
	dumpFile    string
)

type source struct {
	path string
	opts tap.Options
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var sources []source
	for _, path := range args {
		sources = append(sources, source{path, tap.Options{Direction: tap.DirectionAuto, Port: port}})
	}
	if netFile != "" {
		sources = append(sources, source{netFile, tap.Options{Direction: tap.DirectionNet, Port: port}})
	}
	if cpeFile != "" {
		sources = append(sources, source{cpeFile, tap.Options{Direction: tap.DirectionCPE, Port: port}})
	}
	if len(sources) == 0 {
		return errors.New("no capture given")
	}

	spans, err := isdn.ParseCircuitRanges(circuits)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := isdn.GetConfig()
	metrics := isdn.NewMetrics(nil)
	opts := []isdn.Option{
		isdn.WithName("tap"),
		isdn.WithLogger(logger.With("component", "monitor")),
		isdn.WithMetrics(metrics),
	}
	if dumpFile != "" {
		w, err := pcapwriter.New(&pcapwriter.Config{FilePath: dumpFile, Network: true})
		if err != nil {
			return err
		}
		defer w.Close()
		opts = append(opts, isdn.WithDumper(w))
	}
	mon := isdn.NewControllerMonitor(*cfg, isdn.NewCircuitGroup(spans...), isdn.NewCircuitGroup(spans...), opts...)

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		serveMetrics(gctx, g, metricsAddr, metrics)
	}

	sets := make([][]tap.Frame, len(sources))
	var readers errgroup.Group
	for i, src := range sources {
		i, src := i, src
		readers.Go(func() error {
			frames, err := tap.ReadAll(gctx, src.path, src.opts)
			if err != nil {
				return err
			}
			sets[i] = frames
			return nil
		})
	}
	if err := readers.Wait(); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	run(mon, tap.Merge(sets...), cmd.OutOrStdout())

	if metricsAddr != "" {
		logger.Info("Captures processed, serving metrics until interrupted", "addr", metricsAddr)
		<-gctx.Done()
	}
	stop()
	return g.Wait()
}

// run feeds frames to the monitor in capture order and prints every event.
func run(mon *isdn.ControllerMonitor, frames []tap.Frame, out io.Writer) {
	for _, f := range frames {
		mon.ReceiveData(f.Data, f.FromNet)
		for ev := mon.GetEvent(f.Timestamp); ev != nil; ev = mon.GetEvent(f.Timestamp) {
			printEvent(out, f.Timestamp, ev)
		}
	}
}

func printEvent(out io.Writer, ts time.Time, ev *isdn.Event) {
	side := "cpe"
	if ev.Monitor != nil && ev.Monitor.NetInit() {
		side = "net"
	}
	callRef := uint32(0)
	if ev.Monitor != nil {
		callRef = ev.Monitor.CallRef()
	}
	fmt.Fprintf(out, "%s %-8s call_id=%s callref=%d origin=%s %s\n",
		ts.UTC().Format(time.RFC3339Nano), ev.Type, ev.CallID(), callRef, side, ev.Params)
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, metrics *isdn.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func init() {
	MonitorCmd.Flags().StringVar(&netFile, "net", "", "capture of the frames sent by the network side")
	MonitorCmd.Flags().StringVar(&cpeFile, "cpe", "", "capture of the frames sent by the user side")
	MonitorCmd.Flags().Uint16Var(&port, "port", tap.DefaultPort, "TCP port carrying TPKT")
	MonitorCmd.Flags().StringVar(&circuits, "circuits", "1-15,17-31", "bearer circuit codes on each side of the tap")
	MonitorCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	MonitorCmd.Flags().StringVarP(&dumpFile, "dump", "w", "", "write every monitored message to a LAPD pcap file")
}
