package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/pkg/configvalue"
	"github.com/spf13/cobra"
)

func (a *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default settings into an empty database",
		Long: "Insert the default settings into an empty database. When any setting\n" +
			"already exists nothing is written and the existing count is reported.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.configs.SeedDefaults(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, result)
			}
			if !result.Seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "Database already holds %d settings, nothing seeded\n", result.Existing)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d settings, defaults version %s\n", result.Created, result.Version)
			return nil
		},
	}
}

func (a *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [module]",
		Short: "List settings, optionally of one module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := ""
			if len(args) == 1 {
				module = args[0]
			}
			recs, err := a.configs.ListRecords(cmd.Context(), module)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No settings found.")
				return nil
			}
			printRecords(cmd, recs)
			return nil
		},
	}
}

func (a *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <module> <key>",
		Short: "Print the decoded value of one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.configs.GetConfig(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("setting %s.%s not found", args[0], args[1])
			}
			return writeJSON(cmd, configvalue.Native(v))
		},
	}
}

func (a *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <module> <key> <value>",
		Short: "Create or update a setting",
		Long: "Create or update a setting. The value is parsed as JSON when it is valid JSON\n" +
			"(numbers, true/false, arrays, objects), otherwise it is stored as a string.\n" +
			"An existing setting keeps its type.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.configs.SetConfig(cmd.Context(), args[0], args[1], parseArg(args[2]), a.actor)
			if err != nil {
				return err
			}
			return a.printRecord(cmd, rec)
		},
	}
}

func (a *cli) defineCmd() *cobra.Command {
	var (
		typeName    string
		label       string
		description string
		public      bool
	)
	cmd := &cobra.Command{
		Use:   "define <module> <key> <value>",
		Short: "Create a setting with an explicit type",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var typ configvalue.ConfigType
			if typeName != "" {
				t, ok := configvalue.ParseType(typeName)
				if !ok {
					return fmt.Errorf("unknown type %q", typeName)
				}
				typ = t
			}
			rec, err := a.configs.DefineConfig(cmd.Context(), services.ConfigDefinition{
				Module:      args[0],
				Key:         args[1],
				Value:       parseArg(args[2]),
				Type:        typ,
				Label:       label,
				Description: description,
				IsPublic:    public,
				UpdatedBy:   a.actor,
			})
			if err != nil {
				return err
			}
			return a.printRecord(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "STRING, NUMBER, BOOLEAN, JSON, COLOR or LIST (default: inferred)")
	cmd.Flags().StringVar(&label, "label", "", "display label (default: the key)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().BoolVar(&public, "public", false, "expose on the public settings endpoint")
	return cmd
}

func (a *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <module> <key>",
		Short: "Delete a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configs.DeleteConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted setting %s.%s\n", args[0], args[1])
			return nil
		},
	}
}

// parseArg reads a command-line value as JSON, falling back to a plain string.
func parseArg(s string) configvalue.Value {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return configvalue.StringValue(s)
	}
	return configvalue.FromNative(v)
}

func (a *cli) printRecord(cmd *cobra.Command, rec *models.ConfigRecord) error {
	if a.jsonOutput {
		return writeJSON(cmd, rec)
	}
	printRecords(cmd, []models.ConfigRecord{*rec})
	return nil
}

func printRecords(cmd *cobra.Command, recs []models.ConfigRecord) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tKEY\tTYPE\tVALUE\tPUBLIC\tUPDATED BY")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", r.Module, r.Key, r.Type, r.Value, r.IsPublic, r.UpdatedBy)
	}
	_ = w.Flush()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
