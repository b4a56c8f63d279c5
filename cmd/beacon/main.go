package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/manager"
	"github.com/cuemby/beacon/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - disaster recovery replication between paired clusters",
	Long: `Beacon pairs Hadoop clusters and runs replication policies that copy
HDFS and Hive datasets from one cluster to its peer on a schedule.

Run "beacon server" on every cluster; the other commands talk to a running
server over its REST API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Beacon version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://localhost:25968", "Beacon server endpoint")
	rootCmd.PersistentFlags().String("user", os.Getenv("USER"), "User reported to the server")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(statusCmd)
}

// newClient builds the REST client selected by the persistent flags
func newClient(cmd *cobra.Command) *client.Client {
	endpoint, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.NewClient(endpoint, timeout).WithUser(user)
}

// addListFlags registers the paging and filtering flags shared by list commands
func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("filter", "", "Filter as field:value|value,field:value")
	cmd.Flags().String("order-by", "", "Field to order by")
	cmd.Flags().String("sort-order", "", "ASC or DESC")
	cmd.Flags().Int("offset", 0, "Number of results to skip")
	cmd.Flags().Int("num-results", 10, "Maximum number of results")
}

func listQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	if v, _ := cmd.Flags().GetString("filter"); v != "" {
		q.Set("filterBy", v)
	}
	if v, _ := cmd.Flags().GetString("order-by"); v != "" {
		q.Set("orderBy", v)
	}
	if v, _ := cmd.Flags().GetString("sort-order"); v != "" {
		q.Set("sortOrder", v)
	}
	if v, _ := cmd.Flags().GetInt("offset"); v > 0 {
		q.Set("offset", strconv.Itoa(v))
	}
	if v, _ := cmd.Flags().GetInt("num-results"); v > 0 {
		q.Set("numResults", strconv.Itoa(v))
	}
	return q
}

func printResult(res *types.APIResult) {
	fmt.Printf("✓ %s\n", res.Message)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Beacon server for the local cluster",
	Long: `Run the Beacon server. Configuration comes from the YAML file given
with --config and from BEACON_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		mgr, err := manager.New(cfg, types.VersionInfo{Version: Version, Commit: Commit, BuildTime: BuildTime})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Beacon %s serving cluster %s on %s. Press Ctrl+C to stop.\n",
			Version, cfg.Cluster.Name, cfg.Server.Addr)

		if err := mgr.Run(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a Beacon server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		status, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Status:            %s\n", status.Status)
		fmt.Printf("Cluster:           %s\n", status.Cluster)
		fmt.Printf("Version:           %s\n", status.Version)
		fmt.Printf("Pending retries:   %d\n", status.PendingRetries)
		fmt.Printf("Event subscribers: %d\n", status.EventSubscribers)
		if len(status.Plugins) > 0 {
			fmt.Printf("Plugins:           %v\n", status.Plugins)
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().StringP("config", "c", "", "Path to the server configuration file")
}
