package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/codec"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/geometry"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/httpapi"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/storage"
)

type inspectSummary struct {
	ID        string            `json:"id,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Name      string            `json:"name,omitempty"`
	Version   int               `json:"version"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
	Bytes     int               `json:"bytes"`
	Windows   int               `json:"windows"`
	Edges     int               `json:"edges"`
	Viewport  geometry.Viewport `json:"viewport"`
	State     *codec.State      `json:"state,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		file string
		full bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [userId]",
		Short: "Decode and summarize a stored whiteboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				summary inspectSummary
				data    []byte
			)
			switch {
			case file != "":
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				data = raw
			case len(args) == 1:
				store, err := storage.BuildFromDSN(a.StoreDSN, a.printf())
				if err != nil {
					return fmt.Errorf("build store: %w", err)
				}
				defer store.Close()
				rec, err := store.Fetch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				updatedAt := rec.UpdatedAt
				summary = inspectSummary{ID: rec.ID, UserID: rec.UserID, Name: rec.Name, UpdatedAt: &updatedAt}
				data = rec.Data
			default:
				return fmt.Errorf("either a user id or --file is required")
			}

			state, err := codec.Decode(data)
			if err != nil {
				return err
			}
			summary.Version = state.Version
			summary.Bytes = len(data)
			summary.Windows = len(state.Nodes)
			summary.Edges = len(state.Edges)
			summary.Viewport = state.Viewport
			if full {
				summary.State = &state
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Decode an encoded whiteboard blob from a file instead of the store")
	cmd.Flags().BoolVar(&full, "full", false, "Include the decoded nodes and edges")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		paid bool
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Mint a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.JWTSecret
			if secret == "" {
				secret = httpapi.DevSecret
			}
			token, err := httpapi.IssueToken(secret, args[0], paid, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().BoolVar(&paid, "paid", false, "Grant an active paid plan")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
