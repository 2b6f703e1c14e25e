package cmd

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/network"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/stats"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/workload"
)

var (
	workloadType    string
	workloadFile    string
	numNetTraces    int
	disableCompute  bool
	lpIODir         string
	lpIOUseSuffix   bool
	syncMode        int
	replaySeed      int64
	replayLookahead float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <config-file>",
	Short: "Replay a single-application MPI trace over a Dragonfly topology",
	Args:  cobra.ExactArgs(1),
	Run:   runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&workloadType, "workload_type", "dumpi", "Workload trace format (only \"dumpi\" is recognized)")
	replayCmd.Flags().StringVar(&workloadFile, "workload_file", "", "Trace file prefix")
	replayCmd.Flags().IntVar(&numNetTraces, "num_net_traces", 0, "Number of ranks")
	replayCmd.Flags().BoolVar(&disableCompute, "disable_compute", false, "Disable DELAY op compute-time accounting")
	replayCmd.Flags().StringVar(&lpIODir, "lp-io-dir", "", "Directory to persist the mpi-replay-stats stream (optional)")
	replayCmd.Flags().BoolVar(&lpIOUseSuffix, "lp-io-use-suffix", false, "Suffix the stats file name with the run's simulation key")
	replayCmd.Flags().IntVar(&syncMode, "sync", 1, "Synchronization protocol: 1=sequential, 2=conservative, 3=optimistic")
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 1, "Reversible-RNG simulation key")
	replayCmd.Flags().Float64Var(&replayLookahead, "lookahead", 1.0, "Minimum cross-LP event delay")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	configPath := args[0]

	if workloadType != "dumpi" {
		logrus.Fatalf("replay: unrecognized workload_type %q (only \"dumpi\" is supported)", workloadType)
	}
	if workloadFile == "" {
		logrus.Fatal("replay: --workload_file is required")
	}
	if numNetTraces <= 0 {
		logrus.Fatal("replay: --num_net_traces must be positive")
	}

	topoCfg, err := ParseTopologyConfigFile(configPath)
	if err != nil {
		logrus.Fatalf("replay: %v", err)
	}
	params, err := topoCfg.Params()
	if err != nil {
		logrus.Fatalf("replay: %v", err)
	}
	if numNetTraces > params.TotalTerminals {
		logrus.Fatalf("replay: num_net_traces=%d exceeds the topology's %d terminals", numNetTraces, params.TotalTerminals)
	}

	provider, err := workload.NewDumpiFileProvider(workloadFile, numNetTraces)
	if err != nil {
		logrus.Fatalf("replay: %v", err)
	}

	mode := engine.Sequential
	if syncMode == 3 {
		mode = engine.Optimistic
	}
	eng := engine.NewEngine(engine.NewSimulationKey(replaySeed), int64(1)<<62, replayLookahead, mode)
	mapping := topology.NewMapping(params)
	fabric := network.NewFabric(eng, mapping, topoCfg.FabricConfig(disableCompute))

	buildRouters(fabric, params, topoCfg.BufferSizes())
	for r := 0; r < numNetTraces; r++ {
		fabric.NewEndpointAndAttach(topology.RankID(r), provider, 0)
	}
	seedFirstOps(fabric)

	logrus.Infof("replay: starting, %d ranks, %d routers, sync=%d", numNetTraces, params.TotalRouters, syncMode)
	eng.Run()
	logrus.Info("replay: simulation complete")

	lines := stats.CollectLines(fabric.Endpoints)
	if lpIODir != "" {
		path := lpIODir + "/mpi-replay-stats"
		if lpIOUseSuffix {
			path = path + "." + strconv.FormatInt(replaySeed, 10)
		}
		if err := stats.WriteStatsFile(path, lines); err != nil {
			os.Exit(1)
		}
	}
	stats.ReduceEndpoints(fabric.Endpoints).Print()
}

// buildRouters constructs and attaches every router LP the topology
// calls for.
func buildRouters(fabric *network.Fabric, params topology.Params, buffers network.BufferSizes) {
	for i := 0; i < params.TotalRouters; i++ {
		fabric.AddRouter(network.NewRouter(topology.RouterLPID(i), params, buffers))
	}
}

// seedFirstOps kicks off each endpoint's main loop with its first
// MPI_OP_GET_NEXT, per spec.md §4.1's "Endpoint LP: created at init...
// lives for the entire simulation".
func seedFirstOps(fabric *network.Fabric) {
	for lp := range fabric.Endpoints {
		fabric.ScheduleToEndpoint(lp, fabric.Eng.Now(), &network.Message{Kind: network.MPIOpGetNext})
	}
}
