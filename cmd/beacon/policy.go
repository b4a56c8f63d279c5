package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/types"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage replication policies",
}

func policyFromFlags(cmd *cobra.Command, name string) (*types.ReplicationPolicy, error) {
	p := &types.ReplicationPolicy{Name: name}
	policyType, _ := cmd.Flags().GetString("type")
	p.Type = types.PolicyType(policyType)
	p.SourceCluster, _ = cmd.Flags().GetString("source-cluster")
	p.TargetCluster, _ = cmd.Flags().GetString("target-cluster")
	p.SourceDataset, _ = cmd.Flags().GetString("source-dataset")
	p.TargetDataset, _ = cmd.Flags().GetString("target-dataset")
	p.Description, _ = cmd.Flags().GetString("description")
	p.CustomProperties, _ = cmd.Flags().GetStringToString("property")

	frequency, _ := cmd.Flags().GetDuration("frequency")
	p.FrequencyInSec = int(frequency / time.Second)

	for flag, target := range map[string]*time.Time{"start": &p.StartTime, "end": &p.EndTime} {
		v, _ := cmd.Flags().GetString(flag)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s %q, expected RFC3339", flag, v)
		}
		*target = t
	}
	return p, nil
}

func addPolicyFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "FS", "Replication type: FS or HIVE")
	cmd.Flags().String("source-cluster", "", "Cluster the data is copied from (required)")
	cmd.Flags().String("target-cluster", "", "Cluster the data is copied to")
	cmd.Flags().String("source-dataset", "", "Source path or database (required)")
	cmd.Flags().String("target-dataset", "", "Target path or database, defaults to the source dataset")
	cmd.Flags().Duration("frequency", time.Hour, "Interval between runs")
	cmd.Flags().String("start", "", "First run time (RFC3339), defaults to now")
	cmd.Flags().String("end", "", "Time after which the policy completes (RFC3339)")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().StringToString("property", nil, "Custom property key=value (repeatable)")
	_ = cmd.MarkFlagRequired("source-cluster")
	_ = cmd.MarkFlagRequired("source-dataset")
}

var policySubmitCmd = &cobra.Command{
	Use:   "submit NAME",
	Short: "Submit a policy without scheduling it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policyFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		res, err := newClient(cmd).SubmitPolicy(cmd.Context(), p)
		if err != nil {
			return err
		}
		printResult(res)
		fmt.Printf("  Policy ID: %s\n", res.EntityID)
		return nil
	},
}

var policySubmitAndScheduleCmd = &cobra.Command{
	Use:   "submit-and-schedule NAME",
	Short: "Submit a policy and start running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policyFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		res, err := newClient(cmd).SubmitAndSchedulePolicy(cmd.Context(), p)
		if err != nil {
			return err
		}
		printResult(res)
		fmt.Printf("  Policy ID: %s\n", res.EntityID)
		return nil
	},
}

// nameAction builds a command that applies one REST action to a named policy
func nameAction(use, short string, action func(c context.Context, cmd *cobra.Command, name string) (*types.APIResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := action(cmd.Context(), cmd, args[0])
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

var (
	policyScheduleCmd = nameAction("schedule", "Start running a submitted policy",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).SchedulePolicy(ctx, name)
		})
	policySuspendCmd = nameAction("suspend", "Suspend a running policy",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).SuspendPolicy(ctx, name)
		})
	policyResumeCmd = nameAction("resume", "Resume a suspended policy",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).ResumePolicy(ctx, name)
		})
	policyDeleteCmd = nameAction("delete", "Delete a policy on both clusters",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).DeletePolicy(ctx, name)
		})
	policyAbortCmd = nameAction("abort", "Abort the running instance of a policy",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).AbortPolicyInstance(ctx, name)
		})
	policyRerunCmd = nameAction("rerun", "Rerun the last failed or killed instance",
		func(ctx context.Context, cmd *cobra.Command, name string) (*types.APIResult, error) {
			return newClient(cmd).RerunPolicyInstance(ctx, name)
		})
)

var policyStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the status of a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient(cmd).GetPolicyStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s): %s\n", status.Name, status.PolicyID, status.Status)
		return nil
	},
}

var policyGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient(cmd).GetPolicy(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:       %s\n", p.Name)
		fmt.Printf("ID:         %s\n", p.PolicyID)
		fmt.Printf("Type:       %s (%s)\n", p.Type, p.ExecutionType)
		fmt.Printf("Status:     %s\n", p.Status)
		fmt.Printf("Source:     %s:%s\n", p.SourceCluster, p.SourceDataset)
		fmt.Printf("Target:     %s:%s\n", p.TargetCluster, p.TargetDataset)
		fmt.Printf("Frequency:  %s\n", time.Duration(p.FrequencyInSec)*time.Second)
		fmt.Printf("Start:      %s\n", p.StartTime.Format(time.RFC3339))
		if !p.EndTime.IsZero() {
			fmt.Printf("End:        %s\n", p.EndTime.Format(time.RFC3339))
		}
		fmt.Printf("Jobs:       %v\n", p.Jobs)
		fmt.Printf("User:       %s\n", p.User)
		return nil
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient(cmd).ListPolicies(cmd.Context(), listQuery(cmd))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tSOURCE\tTARGET\tFREQUENCY")
		for _, p := range list.Policies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s:%s\t%s:%s\t%s\n", p.Name, p.Type, p.Status,
				p.SourceCluster, p.SourceDataset, p.TargetCluster, p.TargetDataset,
				time.Duration(p.FrequencyInSec)*time.Second)
		}
		_ = w.Flush()
		fmt.Printf("\n%d of %d policies\n", list.Results, list.TotalResults)
		return nil
	},
}

var policyInstancesCmd = &cobra.Command{
	Use:   "instances NAME",
	Short: "List the runs of a policy, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newClient(cmd).ListPolicyInstances(cmd.Context(), args[0], listQuery(cmd))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tSTATUS\tSTARTED\tENDED\tMESSAGE")
		for _, i := range list.Instances {
			ended := ""
			if !i.EndTime.IsZero() {
				ended = i.EndTime.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", i.InstanceID, i.Status, i.StartTime.Format(time.RFC3339), ended, i.Message)
		}
		_ = w.Flush()
		fmt.Printf("\n%d of %d instances\n", list.Results, list.TotalResults)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{
		policySubmitCmd, policySubmitAndScheduleCmd, policyScheduleCmd, policySuspendCmd,
		policyResumeCmd, policyDeleteCmd, policyAbortCmd, policyRerunCmd,
		policyStatusCmd, policyGetCmd, policyListCmd, policyInstancesCmd,
	} {
		policyCmd.AddCommand(c)
	}

	addPolicyFlags(policySubmitCmd)
	addPolicyFlags(policySubmitAndScheduleCmd)
	addListFlags(policyListCmd)
	addListFlags(policyInstancesCmd)

	rootCmd.AddCommand(policyCmd)
}
