package relay

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opnlabs/relay/pkg/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validates the pipeline file and lists its stages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := models.Load(pipelineFilePath)
		if err != nil {
			return err
		}
		describe(cmd.OutOrStdout(), file)
		return nil
	},
}

func describe(w io.Writer, file *models.PipelineFile) {
	fmt.Fprintf(w, "Pipeline %s is valid\n\n", file.Name)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, s := range file.Stages {
		where := "host"
		if s.Image != "" {
			where = s.Image
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, s.Name, where, describeWhen(s.When))
	}
	tw.Flush()

	hooks := []struct {
		name  string
		steps []models.Step
	}{
		{"always", file.Post.Always},
		{"success", file.Post.Success},
		{"failure", file.Post.Failure},
		{"unstable", file.Post.Unstable},
	}
	var post []string
	for _, h := range hooks {
		if len(h.steps) > 0 {
			post = append(post, fmt.Sprintf("%s (%d)", h.name, len(h.steps)))
		}
	}
	if len(post) > 0 {
		fmt.Fprintf(w, "\nPost hooks: %s\n", strings.Join(post, ", "))
	}
}

func describeWhen(w *models.When) string {
	if w == nil {
		return "always"
	}

	var conds []string
	if w.Branch != "" {
		conds = append(conds, "branch "+w.Branch)
	}
	if len(w.Environment) > 0 {
		conds = append(conds, "environment in "+strings.Join(w.Environment, "|"))
	}
	keys := make([]string, 0, len(w.Params))
	for k := range w.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, k+"="+w.Params[k])
	}
	if w.Not {
		return "unless " + strings.Join(conds, " and ")
	}
	return "when " + strings.Join(conds, " and ")
}
