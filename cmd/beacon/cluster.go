package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/types"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage clusters and pairing",
}

var clusterSubmitCmd = &cobra.Command{
	Use:   "submit NAME",
	Short: "Register a cluster with the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cluster := &types.Cluster{Name: args[0]}
		cluster.BeaconEndpoint, _ = cmd.Flags().GetString("endpoint")
		cluster.Local, _ = cmd.Flags().GetBool("local")
		cluster.DataCenter, _ = cmd.Flags().GetString("data-center")
		cluster.Description, _ = cmd.Flags().GetString("description")
		cluster.FsEndpoint, _ = cmd.Flags().GetString("fs-endpoint")
		cluster.HsEndpoint, _ = cmd.Flags().GetString("hs-endpoint")
		cluster.CustomProperties, _ = cmd.Flags().GetStringToString("property")
		cluster.Tags, _ = cmd.Flags().GetStringSlice("tag")

		res, err := newClient(cmd).SubmitCluster(cmd.Context(), cluster)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient(cmd).ListClusters(cmd.Context(), listQuery(cmd))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLOCAL\tDATA CENTER\tENDPOINT\tPEERS")
		for _, c := range list.Clusters {
			var peers []string
			for name, status := range c.Peers {
				peers = append(peers, name+"="+string(status))
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", c.Name, c.Local, c.DataCenter, c.BeaconEndpoint, strings.Join(peers, ","))
		}
		_ = w.Flush()
		fmt.Printf("\n%d of %d clusters\n", list.Results, list.TotalResults)
		return nil
	},
}

var clusterGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd).GetCluster(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:        %s\n", c.Name)
		fmt.Printf("Local:       %t\n", c.Local)
		fmt.Printf("Data center: %s\n", c.DataCenter)
		fmt.Printf("Endpoint:    %s\n", c.BeaconEndpoint)
		if c.FsEndpoint != "" {
			fmt.Printf("FS:          %s\n", c.FsEndpoint)
		}
		if c.HsEndpoint != "" {
			fmt.Printf("Hive:        %s\n", c.HsEndpoint)
		}
		for name, status := range c.Peers {
			fmt.Printf("Peer:        %s (%s)\n", name, status)
		}
		for k, v := range c.CustomProperties {
			fmt.Printf("Property:    %s=%s\n", k, v)
		}
		fmt.Printf("Version:     %d\n", c.Version)
		return nil
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove an unpaired cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient(cmd).DeleteCluster(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var clusterPairCmd = &cobra.Command{
	Use:   "pair REMOTE",
	Short: "Pair the server's local cluster with REMOTE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient(cmd).Pair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var clusterUnpairCmd = &cobra.Command{
	Use:   "unpair REMOTE",
	Short: "Unpair the server's local cluster from REMOTE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient(cmd).Unpair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterSubmitCmd)
	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterGetCmd)
	clusterCmd.AddCommand(clusterDeleteCmd)
	clusterCmd.AddCommand(clusterPairCmd)
	clusterCmd.AddCommand(clusterUnpairCmd)

	clusterSubmitCmd.Flags().String("endpoint", "", "Beacon endpoint of the cluster (required)")
	clusterSubmitCmd.Flags().Bool("local", false, "The cluster this server runs on")
	clusterSubmitCmd.Flags().String("data-center", "", "Data center of the cluster")
	clusterSubmitCmd.Flags().String("description", "", "Description")
	clusterSubmitCmd.Flags().String("fs-endpoint", "", "HDFS endpoint")
	clusterSubmitCmd.Flags().String("hs-endpoint", "", "HiveServer2 endpoint")
	clusterSubmitCmd.Flags().StringToString("property", nil, "Custom property key=value (repeatable)")
	clusterSubmitCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	_ = clusterSubmitCmd.MarkFlagRequired("endpoint")

	addListFlags(clusterListCmd)

	rootCmd.AddCommand(clusterCmd)
}
