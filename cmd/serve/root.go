package serve

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dcache/cmd/util"
	"github.com/ValentinKolb/dcache/lib/cache"
	"github.com/ValentinKolb/dcache/lib/partition"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/ValentinKolb/dcache/rpc/inmem"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &Config{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an in-process dcache demo cluster",
		Long:    `Start an in-process dcache cluster of N nodes with an HTTP endpoint exposing cache access, cluster status and metrics. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCACHE_<flag> (e.g. DCACHE_NODES=5)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "nodes"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Number of cache nodes to run in this process"))

	key = "replicas"
	ServeCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Number of owners per key"))

	key = "sync"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether remote legs of operations wait for responses by default"))

	key = "sync-commit"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether the transaction commit phase waits for remote responses"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Timeout in seconds for cache operations and remote invocations"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, ":8080", cmdUtil.WrapString("HTTP endpoint serving /kv, /status and /metrics"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("Log level (debug, info, warn, error)"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds all parameters of the demo cluster.
type Config struct {
	Nodes         int
	Replicas      int
	Sync          bool
	SyncCommit    bool
	TimeoutSecond int
	Endpoint      string
	LogLevel      string
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Cluster")
	addField("Nodes", fmt.Sprintf("%d", c.Nodes))
	addField("Replicas per key", fmt.Sprintf("%d", c.Replicas))
	addField("Synchronous", fmt.Sprintf("%t", c.Sync))
	addField("Sync commit phase", fmt.Sprintf("%t", c.SyncCommit))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("HTTP")
	addField("Endpoint", c.Endpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// processConfig reads the viper-bound flags into the serve configuration.
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Nodes = viper.GetInt("nodes")
	serveCmdConfig.Replicas = viper.GetInt("replicas")
	serveCmdConfig.Sync = viper.GetBool("sync")
	serveCmdConfig.SyncCommit = viper.GetBool("sync-commit")
	serveCmdConfig.TimeoutSecond = viper.GetInt("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Nodes < 1 {
		return fmt.Errorf("at least one node is required")
	}
	if serveCmdConfig.Replicas < 1 || serveCmdConfig.Replicas > serveCmdConfig.Nodes {
		return fmt.Errorf("replicas must be between 1 and the node count")
	}
	return nil
}

// --------------------------------------------------------------------------
// Run
// --------------------------------------------------------------------------

func run(_ *cobra.Command, _ []string) error {
	cmdUtil.InitLoggers(serveCmdConfig.LogLevel)
	fmt.Println(serveCmdConfig.String())

	timeout := time.Duration(serveCmdConfig.TimeoutSecond) * time.Second
	cluster := inmem.NewCluster(timeout)

	// Register the nodes first so the oracle sees the full member list.
	addrs := make([]rpc.Address, serveCmdConfig.Nodes)
	nodes := make(map[rpc.Address]*inmem.Node, serveCmdConfig.Nodes)
	for i := range addrs {
		addrs[i] = rpc.Address(fmt.Sprintf("node-%d", i+1))
		nodes[addrs[i]] = cluster.AddNode(addrs[i], nil)
	}
	oracle := inmem.NewHashOracle(addrs, serveCmdConfig.Replicas)

	caches := make(map[rpc.Address]*cache.Cache, len(addrs))
	for _, addr := range addrs {
		c, err := cache.New(cache.Config{
			Sync:            serveCmdConfig.Sync,
			SyncCommitPhase: serveCmdConfig.SyncCommit,
			Timeout:         timeout,
		}, nodes[addr], oracle)
		if err != nil {
			return err
		}
		caches[addr] = c
		cluster.SetHandler(addr, c.HandleRemote)
	}

	mux := http.NewServeMux()
	registerHandlers(mux, nodes, caches, addrs)

	srv := &http.Server{Addr: serveCmdConfig.Endpoint, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
		fmt.Println("\nshutting down")
		return srv.Close()
	}
}

// registerHandlers wires the HTTP surface: /kv for cache access through the
// first node, /status for the availability view, /metrics for Prometheus.
func registerHandlers(mux *http.ServeMux, nodes map[rpc.Address]*inmem.Node,
	caches map[rpc.Address]*cache.Cache, addrs []rpc.Address) {

	entry := caches[addrs[0]]

	mux.HandleFunc("/kv", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			value, found, err := entry.Get(key)
			if err != nil {
				status := http.StatusBadGateway
				if partition.IsAvailabilityError(err) {
					status = http.StatusServiceUnavailable
				}
				http.Error(w, err.Error(), status)
				return
			}
			if !found {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			_, _ = w.Write(value)
		case http.MethodPut, http.MethodPost:
			if err := entry.Put(key, []byte(r.URL.Query().Get("value"))); err != nil {
				status := http.StatusBadGateway
				if partition.IsAvailabilityError(err) {
					status = http.StatusServiceUnavailable
				}
				http.Error(w, err.Error(), status)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		for _, addr := range addrs {
			c := caches[addr]
			fmt.Fprintf(w, "%-8s mode=%-9s members=%v\n",
				addr, c.Availability().GetAvailabilityMode(), nodes[addr].GetMembers())
		}
		latency := gometrics.GetOrRegisterTimer("dcache.rpc.latency", nil)
		fmt.Fprintf(w, "\nrpc: count=%d mean=%v p99=%v\n",
			latency.Count(), time.Duration(latency.Mean()), time.Duration(latency.Percentile(0.99)))
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
}
