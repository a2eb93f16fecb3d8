package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/results-america/internal/core"
)

// maxListedErrors caps how many validation errors validate prints.
const maxListedErrors = 20

func (a *app) newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List active import templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				tpls, err := svc.ListTemplates(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tpls) == 0 {
					printWarning(out, "no active templates")
					return nil
				}
				table := newTable(out, "ID", "Name", "Source", "Columns")
				for _, t := range tpls {
					cols := make([]string, len(t.Schema.Columns))
					for i, c := range t.Schema.Columns {
						cols[i] = c.ColumnName
					}
					table.Append([]string{t.ID.String(), t.Name, t.Source, strings.Join(cols, ", ")})
				}
				table.Render()
				return nil
			})
		},
	}
}

func (a *app) newListCmd() *cobra.Command {
	var (
		status     string
		uploadedBy string
		page       int
		pageSize   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := core.ImportStatus(status)
			if s != "" && !s.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.ListImports(ctx, core.ImportFilter{
					Status:     s,
					UploadedBy: uploadedBy,
					Page:       page,
					PageSize:   pageSize,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				table := newTable(out, "ID", "Name", "Status", "Uploaded By", "Uploaded At", "Duplicate Of")
				for _, imp := range res.Imports {
					dup := "-"
					if imp.DuplicateOf != nil {
						dup = imp.DuplicateOf.String()
					}
					table.Append([]string{imp.ID.String(), imp.Name, statusText(imp.Status), imp.UploadedBy, formatTime(imp.UploadedAt), dup})
				}
				table.Render()
				fmt.Fprintf(out, "page %d, %d of %d imports\n", res.Page, len(res.Imports), res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only imports in this status (uploaded, staged, validated, published, failed)")
	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", "", "Only imports by this user")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Imports per page")
	return cmd
}

func (a *app) newUploadCmd() *cobra.Command {
	var (
		templateID string
		user       string
		name       string
		meta       map[string]string
	)
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Stage a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.UploadCSV(ctx, core.UploadRequest{
					Name:       name,
					Filename:   filepath.Base(args[0]),
					Content:    content,
					TemplateID: templateID,
					UploadedBy: user,
					Metadata:   meta,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printSuccess(out, "%s", res.Message)
				fmt.Fprintf(out, "import id: %s\n", res.ImportID)
				fmt.Fprintf(out, "rows: %d total, %d valid, %d invalid, %d with warnings\n",
					res.Stats.TotalRows, res.Stats.ValidRows, res.Stats.InvalidRows, res.Stats.Warnings)
				if res.DuplicateOf != nil {
					printWarning(out, "same file as import %s", res.DuplicateOf)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "Template id (required)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Uploading user (required)")
	cmd.Flags().StringVar(&name, "name", "", "Import name (default: file name)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Metadata as key=value pairs")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate IMPORT_ID",
		Short: "Validate a staged import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				report, err := svc.ValidateImport(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "status: %s\n", statusText(report.Status))
				fmt.Fprintf(out, "rows: %d total, %d valid, %d invalid, %d with warnings\n",
					report.Stats.TotalRows, report.Stats.ValidRows, report.Stats.InvalidRows, report.Stats.WarningRows)
				for i, e := range report.Errors {
					if i == maxListedErrors {
						fmt.Fprintf(out, "... and %d more errors\n", len(report.Errors)-maxListedErrors)
						break
					}
					printError(out, "%s", e)
				}
				for i, w := range report.Warnings {
					if i == maxListedErrors {
						fmt.Fprintf(out, "... and %d more warnings\n", len(report.Warnings)-maxListedErrors)
						break
					}
					printWarning(out, "%s", w)
				}
				if report.IsValid {
					printSuccess(out, "ready to publish")
				}
				return nil
			})
		},
	}
}

func (a *app) newPublishCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "publish IMPORT_ID",
		Short: "Publish a validated import to data points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.PublishImport(ctx, id, user)
				if err != nil {
					return err
				}
				printSuccess(cmd.OutOrStdout(), "%s (session %s)", res.Message, res.SessionID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Publishing user (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) newShowCmd() *cobra.Command {
	var (
		rowStatus string
		export    string
	)
	cmd := &cobra.Command{
		Use:   "show IMPORT_ID",
		Short: "Show an import, its staged rows, or export its invalid rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				if export != "" {
					return exportInvalid(ctx, svc, id, export)
				}
				return showImport(ctx, cmd, svc, id, core.RowStatus(rowStatus))
			})
		},
	}
	cmd.Flags().StringVar(&rowStatus, "rows", "", "Also list staged rows with this status (staged, valid, invalid, all)")
	cmd.Flags().StringVar(&export, "export", "", "Write invalid rows to this .csv or .xlsx file")
	return cmd
}

func showImport(ctx context.Context, cmd *cobra.Command, svc *core.Service, id uuid.UUID, rowStatus core.RowStatus) error {
	detail, err := svc.GetImport(ctx, id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	boldColor.Fprintln(out, detail.Name)
	fields := [][2]string{
		{"ID", detail.ID.String()},
		{"File", fmt.Sprintf("%s (%d bytes)", detail.Filename, detail.FileSize)},
		{"Status", statusText(detail.Status)},
		{"Uploaded", fmt.Sprintf("%s by %s", formatTime(detail.UploadedAt), detail.UploadedBy)},
		{"Rows", fmt.Sprintf("%d total, %d valid, %d invalid, %d processed", detail.TotalRows, detail.ValidRows, detail.InvalidRows, detail.ProcessedRows)},
	}
	if detail.DuplicateOf != nil {
		fields = append(fields, [2]string{"Duplicate of", detail.DuplicateOf.String()})
	}
	if detail.ErrorMessage != "" {
		fields = append(fields, [2]string{"Error", detail.ErrorMessage})
	}
	for _, f := range fields {
		fmt.Fprintf(out, "%-13s %s\n", f[0]+":", f[1])
	}
	keys := make([]string, 0, len(detail.Metadata))
	for k := range detail.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %s\n", k, detail.Metadata[k])
	}

	if rowStatus == "" {
		return nil
	}
	if rowStatus == "all" {
		rowStatus = ""
	}
	rows, err := svc.ListStagedRows(ctx, id, core.RowFilter{Status: rowStatus, PageSize: 500})
	if err != nil {
		return err
	}
	table := newTable(out, "Row", "State", "Year", "Statistic", "Value", "Status", "Issues")
	for _, r := range rows {
		issues := append(append([]string(nil), r.ValidationErrors...), r.Warnings...)
		table.Append([]string{
			strconv.Itoa(r.RowNumber),
			r.StateName,
			formatInt(r.Year),
			r.StatisticName,
			formatFloat(r.Value),
			string(r.ValidationStatus),
			strings.Join(issues, "; "),
		})
	}
	table.Render()
	return nil
}

func exportInvalid(ctx context.Context, svc *core.Service, id uuid.UUID, path string) (err error) {
	export := svc.ExportInvalidRowsCSV
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
	case ".xlsx":
		export = svc.ExportInvalidRowsXLSX
	default:
		return fmt.Errorf("export file must end in .csv or .xlsx: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return export(ctx, id, f)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.New("import id must be a UUID")
	}
	return id, nil
}
