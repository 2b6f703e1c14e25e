package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/network"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/stats"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/workload"
)

var (
	workloadsConfFile string
	allocFile         string
	multijobSeed      int64
	multijobLookahead float64
	multijobLPIODir   string
)

var multijobCmd = &cobra.Command{
	Use:   "multijob <config-file>",
	Short: "Replay up to five concurrent MPI job traces over a shared Dragonfly topology",
	Args:  cobra.ExactArgs(1),
	Run:   runMultijob,
}

func init() {
	multijobCmd.Flags().StringVar(&workloadsConfFile, "workloads_conf_file", "", "Lines of \"<num_ranks> <trace_prefix>\", up to 5 jobs")
	multijobCmd.Flags().StringVar(&allocFile, "alloc_file", "", "Per-job rank-to-global-LP assignment file")
	multijobCmd.Flags().Int64Var(&multijobSeed, "seed", 1, "Reversible-RNG simulation key")
	multijobCmd.Flags().Float64Var(&multijobLookahead, "lookahead", 1.0, "Minimum cross-LP event delay")
	multijobCmd.Flags().StringVar(&multijobLPIODir, "lp-io-dir", "", "Directory to persist the mpi-replay-stats stream (optional)")

	rootCmd.AddCommand(multijobCmd)
}

func runMultijob(cmd *cobra.Command, args []string) {
	configPath := args[0]

	if workloadsConfFile == "" || allocFile == "" {
		logrus.Fatal("multijob: --workloads_conf_file and --alloc_file are both required")
	}

	jobs, err := readJobSpecs(workloadsConfFile)
	if err != nil {
		logrus.Fatalf("multijob: %v", err)
	}
	alloc, err := readAllocation(allocFile, jobs)
	if err != nil {
		logrus.Fatalf("multijob: %v", err)
	}

	topoCfg, err := ParseTopologyConfigFile(configPath)
	if err != nil {
		logrus.Fatalf("multijob: %v", err)
	}
	params, err := topoCfg.Params()
	if err != nil {
		logrus.Fatalf("multijob: %v", err)
	}

	eng := engine.NewEngine(engine.NewSimulationKey(multijobSeed), int64(1)<<62, multijobLookahead, engine.Sequential)
	mapping := topology.NewMapping(params)
	fabric := network.NewFabric(eng, mapping, topoCfg.FabricConfig(false))
	buildRouters(fabric, params, topoCfg.BufferSizes())

	for jobIdx, job := range jobs {
		provider, err := workload.NewDumpiFileProvider(job.TracePrefix, job.NumRanks)
		if err != nil {
			logrus.Fatalf("multijob: job %d: %v", jobIdx, err)
		}
		globalLPs := alloc.GlobalLP[jobIdx]
		for localRank := 0; localRank < job.NumRanks; localRank++ {
			lp := topology.EndpointLPID(globalLPs[localRank])
			ep := network.NewEndpoint(lp, topology.RankID(localRank), provider, jobIdx)
			ep.WorkloadID = jobIdx
			fabric.AddEndpoint(ep)
		}
	}
	seedFirstOps(fabric)

	logrus.Infof("multijob: starting, %d jobs, %d routers", len(jobs), params.TotalRouters)
	eng.Run()
	logrus.Info("multijob: simulation complete")

	lines := stats.CollectLines(fabric.Endpoints)
	if multijobLPIODir != "" {
		if err := stats.WriteStatsFile(multijobLPIODir+"/mpi-replay-stats", lines); err != nil {
			os.Exit(1)
		}
	}
	stats.ReduceEndpoints(fabric.Endpoints).Print()
}

func readJobSpecs(path string) ([]workload.JobSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return workload.ParseWorkloadsConf(f)
}

func readAllocation(path string, jobs []workload.JobSpec) (*workload.Allocation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return workload.ParseAllocFile(f, jobs)
}
