// Command synapsectl is an operator CLI over a Synapse memory store: insert,
// search, list, reinforce, and wipe without writing a client against the
// MCP transport. Grounded on liliang-cn-sqvect's cmd/sqvect (flag layout,
// openStore helper, --json output toggle) and ehrlich-b-wingthing's
// cobra command tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	synapse "github.com/synapseproj/synapse"
)

var (
	dbPath          string
	metadataBackend string
	postgresDSN     string
	vectorBackend   string
	userID          string
	outputJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "synapsectl",
	Short: "Operator CLI for a Synapse cognitive memory store",
	Long:  "synapsectl inserts, searches, and administers a Synapse memory store directly against its metadata backend.",
}

func openEngine() (*synapse.Synapse, error) {
	cfg := synapse.Config{
		MetadataBackend: synapse.MetadataBackend(metadataBackend),
		DBPath:          dbPath,
		PostgresDSN:     postgresDSN,
		VectorBackend:   synapse.VectorBackend(vectorBackend),
	}
	s, err := synapse.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

var insertCmd = &cobra.Command{
	Use:   "insert <content>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		tagsStr, _ := cmd.Flags().GetString("tags")
		sector, _ := cmd.Flags().GetString("sector")
		salience, _ := cmd.Flags().GetFloat64("salience")
		sessionID, _ := cmd.Flags().GetString("session")

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
		}

		mem, err := s.Insert(context.Background(), args[0], synapse.AddOptions{
			UserID:     userID,
			Tags:       tags,
			SectorHint: synapse.Sector(sector),
			Salience:   salience,
			SessionID:  sessionID,
		})
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		printResult(mem)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		minSalience, _ := cmd.Flags().GetFloat64("min-salience")

		results, err := s.Search(context.Background(), synapse.SearchOptions{
			Query:       args[0],
			UserID:      userID,
			Limit:       limit,
			MinSalience: minSalience,
		})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if outputJSON {
			printResult(results)
			return nil
		}
		fmt.Printf("Found %d results:\n", len(results))
		for i, r := range results {
			fmt.Printf("%d. [%s] %.4f  %s\n", i+1, r.Sector, r.CompositeScore, truncateForDisplay(r.Content, 80))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		sector, _ := cmd.Flags().GetString("sector")

		mems, err := s.List(synapse.ListOptions{
			UserID: userID,
			Limit:  limit,
			Offset: offset,
			Sector: synapse.Sector(sector),
		})
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		printResult(mems)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a single memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		mem, err := s.Get(args[0], userID, synapse.GetOptions{})
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		printResult(mem)
		return nil
	},
}

var reinforceCmd = &cobra.Command{
	Use:   "reinforce <id>",
	Short: "Boost a memory's salience",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		boost, _ := cmd.Flags().GetFloat64("boost")
		if err := s.Reinforce(args[0], userID, boost); err != nil {
			return fmt.Errorf("reinforce failed: %w", err)
		}
		fmt.Println("reinforced")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a single memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Delete(args[0], userID); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Println("deleted")
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every memory for --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required for wipe")
		}
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("This deletes every memory for user %q. Continue? [y/N]: ", userID)
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("cancelled")
				return nil
			}
		}

		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Wipe(userID); err != nil {
			return fmt.Errorf("wipe failed: %w", err)
		}
		fmt.Println("wiped")
		return nil
	},
}

var factCmd = &cobra.Command{
	Use:   "fact",
	Short: "Manage temporal facts (C5)",
}

var factAddCmd = &cobra.Command{
	Use:   "add <subject> <predicate> <object>",
	Short: "Record a temporal fact",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		confidence, _ := cmd.Flags().GetFloat64("confidence")
		if confidence == 0 {
			confidence = 1.0
		}

		result, err := s.Store(context.Background(), "", synapse.StoreOptions{
			Type:   synapse.QueryFactual,
			UserID: userID,
			Facts: []synapse.TemporalFact{{
				UserID:     userID,
				Subject:    args[0],
				Predicate:  args[1],
				Object:     args[2],
				ValidFrom:  time.Now(),
				Confidence: confidence,
			}},
		})
		if err != nil {
			return fmt.Errorf("add fact failed: %w", err)
		}
		printResult(result.FactIDs)
		return nil
	},
}

var factAtCmd = &cobra.Command{
	Use:   "at <subject> <predicate>",
	Short: "Query the current (or as-of) value of a subject/predicate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		atStr, _ := cmd.Flags().GetString("at")
		at := time.Now()
		if atStr != "" {
			parsed, err := time.Parse(time.RFC3339, atStr)
			if err != nil {
				return fmt.Errorf("invalid --at timestamp: %w", err)
			}
			at = parsed
		}

		result, err := s.Recall(context.Background(), "", synapse.RecallOptions{
			Type:   synapse.QueryFactual,
			UserID: userID,
			At:     at,
			FactPattern: synapse.FactPattern{
				Subject:   args[0],
				Predicate: args[1],
			},
		})
		if err != nil {
			return fmt.Errorf("fact query failed: %w", err)
		}
		printResult(result.Factual)
		return nil
	},
}

var factInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Close a temporal fact's validity interval now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openEngine()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.InvalidateFact(args[0], userID, time.Now()); err != nil {
			return fmt.Errorf("invalidate failed: %w", err)
		}
		fmt.Println("invalidated")
		return nil
	},
}

func printResult(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func truncateForDisplay(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/synapse.db", "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&metadataBackend, "metadata-backend", "sqlite", "metadata backend (sqlite|postgres)")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", "", "postgres connection string (metadata-backend=postgres)")
	rootCmd.PersistentFlags().StringVar(&vectorBackend, "vector-backend", "exact", "vector index backend (exact|hnsw)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id to scope the operation to")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "emit JSON output where applicable")

	insertCmd.Flags().String("tags", "", "comma-separated tags")
	insertCmd.Flags().String("sector", "", "sector hint (semantic|episodic|procedural|emotional|reflective)")
	insertCmd.Flags().Float64("salience", 0, "initial salience (default 0.5)")
	insertCmd.Flags().String("session", "", "session id")

	searchCmd.Flags().Int("limit", 5, "max results")
	searchCmd.Flags().Float64("min-salience", 0, "minimum salience floor")

	listCmd.Flags().Int("limit", 20, "max memories")
	listCmd.Flags().Int("offset", 0, "pagination offset")
	listCmd.Flags().String("sector", "", "filter by sector")

	reinforceCmd.Flags().Float64("boost", 0, "salience boost (default: config's reinforcement step)")

	wipeCmd.Flags().Bool("force", false, "skip confirmation prompt")

	factAddCmd.Flags().Float64("confidence", 1.0, "fact confidence [0,1]")
	factAtCmd.Flags().String("at", "", "RFC3339 timestamp to query as-of (default: now)")

	factCmd.AddCommand(factAddCmd, factAtCmd, factInvalidateCmd)

	rootCmd.AddCommand(
		insertCmd,
		searchCmd,
		listCmd,
		getCmd,
		reinforceCmd,
		deleteCmd,
		wipeCmd,
		factCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
