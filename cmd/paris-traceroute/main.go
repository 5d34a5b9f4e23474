// Command paris-traceroute runs classical, Paris-mode, or MDA
// traceroute against a single target and renders the discovered
// lattice to stdout.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ecmptrace/paristraceroute/algorithm"
	"github.com/ecmptrace/paristraceroute/algorithms/mda"
	"github.com/ecmptrace/paristraceroute/algorithms/traceroute"
	"github.com/ecmptrace/paristraceroute/event"
	"github.com/ecmptrace/paristraceroute/internal/cliopts"
	"github.com/ecmptrace/paristraceroute/internal/resolve"
	"github.com/ecmptrace/paristraceroute/lattice"
	"github.com/ecmptrace/paristraceroute/network"
	"github.com/ecmptrace/paristraceroute/ptloop"
)

var (
	opts       = cliopts.NewTraceOptions()
	mdaFlagSet bool
	mdaBound   float64
	mdaBranch  int
	algName    string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "paris-traceroute [flags] target",
		Short: "load-balancer aware multipath traceroute",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}

	f := root.Flags()
	f.BoolVarP(&opts.IPv4, "ipv4", "4", true, "force IPv4")
	f.StringVarP(&opts.Protocol, "protocol", "P", "udp", "probe protocol")
	f.BoolVarP(&opts.FixedUDP, "udp-fixed", "U", false, "UDP with fixed destination port 53")
	f.IntVarP(&opts.FirstTTL, "first", "f", 1, "starting TTL")
	f.IntVarP(&opts.MaxTTL, "max-ttl", "m", 30, "maximum TTL")
	noResolve := f.BoolP("no-resolve", "n", false, "do not reverse-resolve hop addresses")
	f.Float64VarP(&opts.Wait, "wait", "w", 5.0, "per-probe timeout, seconds")
	f.StringVarP(&algName, "algorithm", "a", "mda", "mda|traceroute|paris-traceroute")
	mdaParams := f.StringP("mda", "M", "", "bound,max_branch for MDA")
	f.IntVarP(&opts.SrcPort, "source-port", "s", 3083, "source port")
	f.IntVarP(&opts.DstPort, "dest-port", "d", 30000, "destination port")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		opts.Resolve = !*noResolve
		if cmd.Flags().Changed("algorithm") {
			opts.SetAlgorithmExplicit(algName)
		}
		if *mdaParams != "" {
			if _, err := fmt.Sscanf(*mdaParams, "%f,%d", &mdaBound, &mdaBranch); err != nil {
				return fmt.Errorf("paris-traceroute: invalid -M value %q: %v", *mdaParams, err)
			}
			mdaFlagSet = true
		}
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	target, err := cliopts.TargetFromArgs(args)
	if err != nil {
		return err
	}
	opts.Target = target

	if err := opts.ApplyMDAParams(mdaBound, mdaBranch, mdaFlagSet); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.FixedUDP {
		opts.DstPort = 53
	}

	dstIP, err := resolve.Target(opts.Target, false)
	if err != nil {
		return err
	}

	logger := logrus.New()
	if !verbose {
		logger.SetLevel(logrus.WarnLevel)
	}
	entry := logger.WithField("component", "cli")

	cfg := network.DefaultConfig()
	cfg.Timeout = time.Duration(opts.Wait * float64(time.Second))
	cfg.Verbose = verbose
	cfg.Logger = entry

	bus := event.NewBus()
	net, err := network.New(cfg, bus)
	if err != nil {
		return err
	}

	registry := algorithm.NewRegistry()
	registry.Register(traceroute.New(traceroute.ModeClassical))
	registry.Register(traceroute.New(traceroute.ModeParis))
	registry.Register(mda.New())

	alg, err := registry.Lookup(opts.Algorithm)
	if err != nil {
		return err
	}

	lat := lattice.New()
	loop := ptloop.Create(net, bus, 200*time.Millisecond, entry)

	algOpts := algorithm.Options{
		Target:     dstIP.String(),
		FirstTTL:   opts.FirstTTL,
		MaxTTL:     opts.MaxTTL,
		Timeout:    int(opts.Wait * 1000),
		MaxBranch:  opts.MaxBranch,
		Confidence: opts.Bound,
		SrcPort:    uint16(opts.SrcPort),
		DstPort:    uint16(opts.DstPort),
	}
	if err := loop.AddAlgorithm(alg, lat, algOpts); err != nil {
		return err
	}

	loop.Run()
	if err := loop.Free(); err != nil {
		entry.WithField("err", err).Warn("error closing network")
	}

	lat.Dump(func(n *lattice.Node, successors []*lattice.Node) {
		from := resolve.Render(n.Address, opts.Resolve)
		if len(successors) == 0 {
			fmt.Printf("%d %s\n", n.TTL, from)
			return
		}
		for _, s := range successors {
			to := resolve.Render(s.Address, opts.Resolve)
			fmt.Printf("%d %s -> %d %s\n", n.TTL, from, s.TTL, to)
		}
	})
	return nil
}
