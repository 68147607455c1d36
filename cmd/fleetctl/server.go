package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage fleet servers",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var servers []interface{}
		if err := c.do("GET", "/servers", nil, &servers); err != nil {
			return err
		}
		printJSON(servers)
		return nil
	},
}

type registerServerRequest struct {
	Hostname       string            `json:"hostname"`
	Address        string            `json:"address"`
	ManagementPort int               `json:"management_port"`
	Capacity       resourceAmounts   `json:"capacity"`
	Topology       serverTopology    `json:"topology"`
	ImageByVariant map[string]string `json:"image_by_variant,omitempty"`
}

type resourceAmounts struct {
	CPUCores      float64 `json:"cpu_cores"`
	MemoryMB      int64   `json:"memory_mb"`
	DiskGB        int64   `json:"disk_gb"`
	BandwidthMbps int64   `json:"bandwidth_mbps"`
}

type serverTopology struct {
	Region       string `json:"region"`
	Zone         string `json:"zone,omitempty"`
	Architecture string `json:"architecture"`
}

var serverRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new server with the fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname, _ := cmd.Flags().GetString("hostname")
		address, _ := cmd.Flags().GetString("address")
		port, _ := cmd.Flags().GetInt("management-port")
		cpu, _ := cmd.Flags().GetFloat64("cpu-cores")
		memMB, _ := cmd.Flags().GetInt64("memory-mb")
		diskGB, _ := cmd.Flags().GetInt64("disk-gb")
		bwMbps, _ := cmd.Flags().GetInt64("bandwidth-mbps")
		region, _ := cmd.Flags().GetString("region")
		zone, _ := cmd.Flags().GetString("zone")
		arch, _ := cmd.Flags().GetString("architecture")

		req := registerServerRequest{
			Hostname:       hostname,
			Address:        address,
			ManagementPort: port,
			Capacity: resourceAmounts{
				CPUCores:      cpu,
				MemoryMB:      memMB,
				DiskGB:        diskGB,
				BandwidthMbps: bwMbps,
			},
			Topology: serverTopology{Region: region, Zone: zone, Architecture: arch},
		}

		c := clientFor(cmd)
		var record interface{}
		if err := c.do("POST", "/servers", req, &record); err != nil {
			return err
		}
		printJSON(record)
		return nil
	},
}

var serverGetCmd = &cobra.Command{
	Use:   "get [server-id]",
	Short: "Get a server by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var record interface{}
		if err := c.do("GET", "/servers/"+args[0], nil, &record); err != nil {
			return err
		}
		printJSON(record)
		return nil
	},
}

var serverDrainCmd = &cobra.Command{
	Use:   "drain [server-id]",
	Short: "Mark a server draining so no new workspaces place onto it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		if err := c.do("POST", "/servers/"+args[0]+"/drain", nil, nil); err != nil {
			return err
		}
		fmt.Println("server draining")
		return nil
	},
}

var serverActivateCmd = &cobra.Command{
	Use:   "activate [server-id]",
	Short: "Return a drained server to active placement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		if err := c.do("POST", "/servers/"+args[0]+"/activate", nil, nil); err != nil {
			return err
		}
		fmt.Println("server active")
		return nil
	},
}

var serverHealthCmd = &cobra.Command{
	Use:   "health [server-id]",
	Short: "Show a server's heartbeat health sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var sample interface{}
		if err := c.do("GET", "/servers/"+args[0]+"/health", nil, &sample); err != nil {
			return err
		}
		printJSON(sample)
		return nil
	},
}

var serverClusterStatusCmd = &cobra.Command{
	Use:   "cluster-status",
	Short: "Show the Raft cluster's leader and replica membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var status interface{}
		if err := c.do("GET", "/servers/cluster/status", nil, &status); err != nil {
			return err
		}
		printJSON(status)
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverListCmd, serverRegisterCmd, serverGetCmd, serverDrainCmd, serverActivateCmd, serverHealthCmd, serverClusterStatusCmd)

	serverRegisterCmd.Flags().String("hostname", "", "Server hostname")
	serverRegisterCmd.Flags().String("address", "", "Server management address")
	serverRegisterCmd.Flags().Int("management-port", 9100, "Server management port")
	serverRegisterCmd.Flags().Float64("cpu-cores", 0, "Total CPU cores")
	serverRegisterCmd.Flags().Int64("memory-mb", 0, "Total memory in MB")
	serverRegisterCmd.Flags().Int64("disk-gb", 0, "Total disk in GB")
	serverRegisterCmd.Flags().Int64("bandwidth-mbps", 0, "Total bandwidth in Mbps")
	serverRegisterCmd.Flags().String("region", "", "Server region")
	serverRegisterCmd.Flags().String("zone", "", "Server availability zone")
	serverRegisterCmd.Flags().String("architecture", "amd64", "Server CPU architecture")
	serverRegisterCmd.MarkFlagRequired("hostname")
	serverRegisterCmd.MarkFlagRequired("address")
	serverRegisterCmd.MarkFlagRequired("region")
}
