package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"herbledger/internal/app"
	"herbledger/internal/db"
	"herbledger/internal/domain"
	"herbledger/internal/engine"
	"herbledger/internal/ledger"
	"herbledger/internal/lineage"
	"herbledger/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hb",
	Short: "HerbLedger CLI",
	Long: `HerbLedger tracks herbal product batches from field collection to labeled
retail units on an append-only ledger.
- Workspace: the .herbledger directory holding the ledger database.
- Tags: RFID tags provisioned against batches.
- Collection events: harvests checked against species, geo-fence and
  seasonal rules; they write the referenced bags into existence.
- Batches: transport batches group bags; processing consumes batches
  into processed batches.
- Quality tests: lab results that approve or quarantine a batch.
- Smart labels: signed labels issued for approved batches only.
- Lineage: the full ancestor tree of any batch, view with 'hb lineage'.
- Event log: one event per accepted mutation, view with 'hb log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HERBLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting organization identifier")
	rootCmd.PersistentFlags().String("config", "", "path to YAML rulebook (defaults to <workspace>/herbledger.yaml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(transportCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(qualityCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(assetCmd())
	rootCmd.AddCommand(lineageCmd())
	rootCmd.AddCommand(speciesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				species, err := e.AllowedSpecies(ctx)
				if err != nil {
					return err
				}
				workspace := viper.GetString("workspace")
				fmt.Printf("Ledger ready at %s\n", db.Path(workspace))
				fmt.Printf("Allowed species: %s\n", strings.Join(species, ", "))
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect the rulebook"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective rulebook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	return cfg
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage RFID tags"}
	tag.AddCommand(tagProvisionCmd())
	return tag
}

func tagProvisionCmd() *cobra.Command {
	var uid, batchID, metaHash string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a tag against a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tag, err := e.ProvisionTag(ctx, uid, batchID, viper.GetString("actor-id"), metaHash)
				if err != nil {
					return err
				}
				return printJSONOrTable(tag)
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "tag UID")
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("uid")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func collectCmd() *cobra.Command {
	collect := &cobra.Command{Use: "collect", Short: "Record collection events"}
	collect.AddCommand(collectRecordCmd())
	return collect
}

func collectRecordCmd() *cobra.Command {
	var eventID, collector, species, metaHash string
	var lat, lon float64
	var bags []string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a harvest collection event",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if collector == "" {
				collector = actor
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				event, err := e.RecordCollectionEvent(ctx, engine.CollectionOptions{
					EventID:     eventID,
					CollectorID: collector,
					Species:     species,
					Latitude:    lat,
					Longitude:   lon,
					BagIDs:      bags,
					MetaHash:    metaHash,
					ActorID:     actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(event)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&collector, "collector", "", "collector id (defaults to --actor-id)")
	cmd.Flags().StringVar(&species, "species", "", "species (scientific name)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringSliceVar(&bags, "bags", nil, "bag ids")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("species")
	return cmd
}

func transportCmd() *cobra.Command {
	transport := &cobra.Command{Use: "transport", Short: "Manage transport batches"}
	transport.AddCommand(transportCreateCmd())
	return transport
}

func transportCreateCmd() *cobra.Command {
	var batchID, transporter, truck, metaHash string
	var bags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Group bags into a transport batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if transporter == "" {
				transporter = actor
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				batch, err := e.CreateTransportBatch(ctx, engine.TransportOptions{
					BatchID:       batchID,
					BagIDs:        bags,
					TransporterID: transporter,
					TruckID:       truck,
					MetaHash:      metaHash,
					ActorID:       actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(batch)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringSliceVar(&bags, "bags", nil, "bag ids")
	cmd.Flags().StringVar(&transporter, "transporter", "", "transporter id (defaults to --actor-id)")
	cmd.Flags().StringVar(&truck, "truck", "", "truck id")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("bags")
	return cmd
}

func processCmd() *cobra.Command {
	process := &cobra.Command{Use: "process", Short: "Manage processed batches"}
	process.AddCommand(processCreateCmd())
	process.AddCommand(processStepCmd())
	return process
}

func processCreateCmd() *cobra.Command {
	var output, processor, metaHash string
	var inputs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Consume batches into a processed batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if processor == "" {
				processor = actor
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				batch, err := e.CreateProcessedBatch(ctx, engine.ProcessOptions{
					InputBatchIDs: inputs,
					OutputBatchID: output,
					ProcessorID:   processor,
					MetaHash:      metaHash,
					ActorID:       actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(batch)
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "output batch id")
	cmd.Flags().StringSliceVar(&inputs, "inputs", nil, "input batch ids")
	cmd.Flags().StringVar(&processor, "processor", "", "processor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("inputs")
	return cmd
}

func processStepCmd() *cobra.Command {
	var stepID, batchID, operation, operator, metaHash, paramsJSON string
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Record a processing step against a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if operator == "" {
				operator = actor
			}
			params, err := parseJSONObject(paramsJSON)
			if err != nil {
				return fmt.Errorf("invalid --params: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				step, err := e.RecordProcessingStep(ctx, engine.StepOptions{
					StepID:     stepID,
					BatchID:    batchID,
					Operation:  operation,
					Parameters: params,
					OperatorID: operator,
					MetaHash:   metaHash,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(step)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&operation, "operation", "", "operation name (drying, grinding, ...)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator id (defaults to --actor-id)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "operation parameters as JSON object")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("step")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("operation")
	return cmd
}

func qualityCmd() *cobra.Command {
	quality := &cobra.Command{Use: "quality", Short: "Manage quality tests"}
	quality.AddCommand(qualityRecordCmd())
	return quality
}

func qualityRecordCmd() *cobra.Command {
	var testID, batchID, labID, metaHash string
	var results []string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a quality test and apply the gates",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if labID == "" {
				labID = actor
			}
			parsed, err := parseResults(results)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				test, err := e.RecordQualityTest(ctx, engine.QualityTestOptions{
					TestID:      testID,
					BatchID:     batchID,
					LabID:       labID,
					TestResults: parsed,
					MetaHash:    metaHash,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(test)
			})
		},
	}
	cmd.Flags().StringVar(&testID, "test", "", "test id")
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&labID, "lab", "", "lab id (defaults to --actor-id)")
	cmd.Flags().StringSliceVar(&results, "result", nil, "measurement as name=value (repeatable)")
	cmd.Flags().StringVar(&metaHash, "meta-hash", "", "off-chain metadata hash")
	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func labelCmd() *cobra.Command {
	var metaJSON string
	cmd := &cobra.Command{
		Use:   "label <batch-id>",
		Short: "Generate a smart label for an approved batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseJSONObject(metaJSON)
			if err != nil {
				return fmt.Errorf("invalid --meta: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				label, err := e.GenerateSmartLabel(ctx, args[0], meta, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(label)
			})
		},
	}
	cmd.Flags().StringVar(&metaJSON, "meta", "", "label metadata as JSON object")
	return cmd
}

func batchCmd() *cobra.Command {
	batch := &cobra.Command{Use: "batch", Short: "Batch lifecycle operations"}
	batch.AddCommand(batchTransferCmd())
	batch.AddCommand(batchQuarantineCmd())
	batch.AddCommand(batchRecallCmd())
	return batch
}

func batchTransferCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "transfer <batch-id>",
		Short: "Transfer batch ownership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				batch, err := e.TransferBatch(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(batch)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "current owner (defaults to --actor-id)")
	cmd.Flags().StringVar(&to, "to", "", "new owner")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func batchQuarantineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "quarantine <batch-id>",
		Short: "Force a batch into quarantine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				batch, err := e.FlagQuarantine(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(batch)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "quarantine reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func batchRecallCmd() *cobra.Command {
	var reason, metaJSON string
	cmd := &cobra.Command{
		Use:   "recall <batch-id>",
		Short: "Trigger a recall for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseJSONObject(metaJSON)
			if err != nil {
				return fmt.Errorf("invalid --meta: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recall, err := e.TriggerRecall(ctx, args[0], reason, meta, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(recall)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "recall reason")
	cmd.Flags().StringVar(&metaJSON, "meta", "", "recall metadata as JSON object")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func assetCmd() *cobra.Command {
	asset := &cobra.Command{Use: "asset", Short: "Inspect ledger records"}
	asset.AddCommand(assetShowCmd())
	asset.AddCommand(assetListCmd())
	return asset
}

func assetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ledger record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.QueryAsset(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(json.RawMessage(rec.Record))
			})
		},
	}
	return cmd
}

func assetListCmd() *cobra.Command {
	var objectType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records of one object type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recs, err := e.QueryAssetsByType(ctx, objectType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Status", "Owner", "Timestamp"})
				for _, rec := range recs {
					var summary struct {
						Status    string `json:"status"`
						Owner     string `json:"owner"`
						Timestamp string `json:"timestamp"`
					}
					_ = json.Unmarshal(rec.Record, &summary)
					tw.AppendRow(table.Row{rec.Key, summary.Status, summary.Owner, summary.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&objectType, "type", "", "object type (bag, transportBatch, ...)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func lineageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage <batch-id>",
		Short: "Show the ancestor tree of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				node, err := e.QueryLineage(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(node)
				}
				printLineage(node)
				return nil
			})
		},
	}
	return cmd
}

func speciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "species",
		Short: "List allowed species",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				species, err := e.AllowedSpecies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(species)
				}
				for _, s := range species {
					fmt.Println(s)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var name, recordKey string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Store.LatestEvents(ctx, n, name, recordKey)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Name", "Record", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Name, evt.RecordKey, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&name, "name", "", "event name filter")
	cmd.Flags().StringVar(&recordKey, "key", "", "record key filter")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := "hbk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   ledger.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Store.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				out := map[string]any{"id": rec.ID, "actor_id": rec.ActorID, "name": rec.Name, "key": secret}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Created API key %s for %s\n", rec.ID, rec.ActorID)
				fmt.Printf("Secret (store it now, it is not retrievable): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Store.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.Open(cmd.Context(), workspace, viper.GetString("config"))
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("HERBLEDGER_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("HERBLEDGER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving HerbLedger API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, conn, err := app.Open(ctx, workspace, viper.GetString("config"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseJSONObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseResults(pairs []string) ([]domain.TestResult, error) {
	results := make([]domain.TestResult, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --result %q: want name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --result %q: %w", pair, err)
		}
		results = append(results, domain.TestResult{Name: strings.TrimSpace(name), Value: v})
	}
	return results, nil
}

func printLineage(n lineage.Node) {
	fmt.Printf("%s\n", lineageLine(n))
	for i, p := range n.Parents {
		printLineageNode(p, "", i == len(n.Parents)-1)
	}
}

func printLineageNode(n lineage.Node, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, lineageLine(n))
	for i, p := range n.Parents {
		printLineageNode(p, newPrefix, i == len(n.Parents)-1)
	}
}

func lineageLine(n lineage.Node) string {
	id := n.BatchID
	if id == "" {
		id = n.BagID
	}
	detail := n.Status
	if n.Error != "" {
		detail = n.Error
	}
	return fmt.Sprintf("%s (%s) [%s]", id, n.Type, detail)
}
