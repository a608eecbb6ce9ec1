package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustaudit/internal/store"
	"trustaudit/internal/types"
)

var subjectCmd = &cobra.Command{
	Use:   "subject",
	Short: "Manage audited businesses",
}

var subjectAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a business to audit",
	Long: `Registers a business. The id is generated unless --id is given.

Example:
  trustaudit subject add "Acme Roofing LLC" --city Denver --state CO --website acmeroofing.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: addSubject,
}

var subjectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered businesses",
	RunE:  listSubjects,
}

func init() {
	subjectAddCmd.Flags().String("id", "", "Subject id (default: generated)")
	subjectAddCmd.Flags().String("city", "", "City")
	subjectAddCmd.Flags().String("state", "", "State or region")
	subjectAddCmd.Flags().String("website", "", "Website")
	subjectAddCmd.Flags().String("phone", "", "Phone number")

	subjectCmd.AddCommand(subjectAddCmd)
	subjectCmd.AddCommand(subjectListCmd)
}

func openStore(cmd *cobra.Command) (*store.SQLStore, error) {
	return store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
}

func addSubject(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = uuid.NewString()
	}
	subj := &types.Subject{ID: id, Name: strings.Join(args, " ")}
	subj.City, _ = cmd.Flags().GetString("city")
	subj.State, _ = cmd.Flags().GetString("state")
	subj.Website, _ = cmd.Flags().GetString("website")
	subj.Phone, _ = cmd.Flags().GetString("phone")

	if err := st.CreateSubject(cmd.Context(), subj); err != nil {
		return err
	}
	logger.Info("Subject created", zap.String("id", subj.ID), zap.String("name", subj.Name))
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", subj.ID, subj.Name)
	return nil
}

func listSubjects(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	subjects, err := st.ListSubjects(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(subjects) == 0 {
		fmt.Fprintln(out, "No subjects registered.")
		return nil
	}
	for _, s := range subjects {
		latest := s.LatestAuditID
		if latest == "" {
			latest = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Location(), latest)
	}
	return nil
}
