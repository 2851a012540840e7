package stats

import (
	"fmt"
	"github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/lib/lockmgr"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/pool"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"os"
	"time"
)

var (
	manager *pool.Manager

	// StatsCmd pings every host and prints the pool state and client metrics
	StatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show host reachability, pool state and client metrics",
		Long: util.WrapString("Pings every configured master and replica through the connection pool, " +
			"then prints the pool state and all client metrics in the Prometheus text format."),
		Args:               cobra.NoArgs,
		PersistentPreRunE:  setupStatsClient,
		PersistentPostRunE: closeStatsClient,
		RunE:               run,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add connection flags
	util.SetupClientFlags(StatsCmd)
	StatsCmd.Flags().Bool("metrics", true, "Print the client metrics")
}

func setupStatsClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	manager, err = util.NewManager()
	return err
}

func closeStatsClient(_ *cobra.Command, _ []string) error {
	if manager == nil {
		return nil
	}
	return manager.Close()
}

func run(cmd *cobra.Command, _ []string) error {
	r := manager.Resolver()

	fmt.Println("HOSTS")
	for _, role := range []client.Role{client.ReadWrite, client.ReadOnly} {
		// the leases are held until every host was visited, otherwise the
		// pool would hand out the same idle connection again
		var leases []*pool.Lease
		for i := 0; i < r.HostCount(role); i++ {
			start := time.Now()
			lease, err := leaseFor(cmd, role)
			if err != nil {
				fmt.Printf("  %-10s error: %v\n", role, err)
				continue
			}
			leases = append(leases, lease)

			conn := lease.Conn()
			status := "PONG"
			if err := conn.Ping(); err != nil {
				status = err.Error()
			}
			fmt.Printf("  %-10s %-30s %s (%s)\n", role, conn.Endpoint().Addr(), status, time.Since(start))
		}
		for _, lease := range leases {
			lease.Release()
		}
	}

	s := manager.Stats()
	fmt.Println()
	fmt.Println("POOL")
	fmt.Printf("  %-22s: %d/%d leased, %d idle\n", "Read-Write", s.ReadWrite.Leased, s.ReadWrite.Max, s.ReadWrite.Idle)
	fmt.Printf("  %-22s: %d/%d leased, %d idle\n", "Read-Only", s.ReadOnly.Leased, s.ReadOnly.Max, s.ReadOnly.Idle)
	fmt.Printf("  %-22s: %d\n", "Deactivated", s.Deactivated)
	fmt.Printf("  %-22s: %d\n", "Generation", s.Generation)

	if show, _ := cmd.Flags().GetBool("metrics"); show {
		fmt.Println()
		fmt.Println("METRICS")
		metrics.WritePrometheus(os.Stdout, false)
		gometrics.WriteOnce(lockmgr.Metrics, os.Stdout)
	}
	return nil
}

func leaseFor(cmd *cobra.Command, role client.Role) (*pool.Lease, error) {
	if role == client.ReadOnly {
		return manager.LeaseReadOnly(cmd.Context())
	}
	return manager.Lease(cmd.Context())
}
