package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

type createWorkspaceRequest struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	WorkspaceID    string `json:"workspace_id,omitempty"`
	Tier           string `json:"tier"`
	RequiredRegion string `json:"required_region,omitempty"`
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		sessionID, _ := cmd.Flags().GetString("session-id")
		tier, _ := cmd.Flags().GetString("tier")
		region, _ := cmd.Flags().GetString("region")

		req := createWorkspaceRequest{
			UserID:         userID,
			SessionID:      sessionID,
			Tier:           tier,
			RequiredRegion: region,
		}

		c := clientFor(cmd)
		var record interface{}
		if err := c.do("POST", "/workspaces", req, &record); err != nil {
			return err
		}
		printJSON(record)
		return nil
	},
}

var workspaceGetCmd = &cobra.Command{
	Use:   "get [workspace-id]",
	Short: "Get a workspace by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var record interface{}
		if err := c.do("GET", "/workspaces/"+args[0], nil, &record); err != nil {
			return err
		}
		printJSON(record)
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete [workspace-id]",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		if err := c.do("DELETE", "/workspaces/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("workspace deleted")
		return nil
	},
}

var workspaceStopCmd = &cobra.Command{
	Use:   "stop [workspace-id]",
	Short: "Stop a workspace's container without deleting its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		if err := c.do("POST", "/workspaces/"+args[0]+"/stop", nil, nil); err != nil {
			return err
		}
		fmt.Println("workspace stopped")
		return nil
	},
}

var workspaceRestartCmd = &cobra.Command{
	Use:   "restart [workspace-id]",
	Short: "Restart a stopped workspace's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		if err := c.do("POST", "/workspaces/"+args[0]+"/restart", nil, nil); err != nil {
			return err
		}
		fmt.Println("workspace restarted")
		return nil
	},
}

type scaleWorkspaceRequest struct {
	Tier string `json:"tier"`
}

var workspaceScaleCmd = &cobra.Command{
	Use:   "scale [workspace-id]",
	Short: "Change a workspace's hardware tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		c := clientFor(cmd)
		if err := c.do("POST", "/workspaces/"+args[0]+"/scale", scaleWorkspaceRequest{Tier: tier}, nil); err != nil {
			return err
		}
		fmt.Printf("workspace scaled to tier %s\n", tier)
		return nil
	},
}

var workspaceHealthCmd = &cobra.Command{
	Use:   "health [workspace-id]",
	Short: "Check a workspace's container health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(cmd)
		var resp struct {
			Healthy bool `json:"healthy"`
		}
		if err := c.do("GET", "/workspaces/"+args[0]+"/health", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("healthy: %t\n", resp.Healthy)
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(
		workspaceCreateCmd, workspaceGetCmd, workspaceDeleteCmd,
		workspaceStopCmd, workspaceRestartCmd, workspaceScaleCmd, workspaceHealthCmd,
	)

	workspaceCreateCmd.Flags().String("user-id", "", "Owning user ID")
	workspaceCreateCmd.Flags().String("session-id", "", "Coding session ID")
	workspaceCreateCmd.Flags().String("tier", "small", "Hardware tier")
	workspaceCreateCmd.Flags().String("region", "", "Preferred region")
	workspaceCreateCmd.MarkFlagRequired("user-id")
	workspaceCreateCmd.MarkFlagRequired("session-id")

	workspaceScaleCmd.Flags().String("tier", "", "New hardware tier")
	workspaceScaleCmd.MarkFlagRequired("tier")
}
