package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawmem/mindstore/internal/dedup"
	"github.com/clawmem/mindstore/internal/model"
	"github.com/clawmem/mindstore/internal/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Record an observation",
		Long:  "Record an observation. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("type", "t", "note", "Observation type: discovery, bugfix, feature, refactor, problem, success, warning, session, note")
	cmd.Flags().String("tool", "", "Originating tool name")
	cmd.Flags().String("tool-input", "", "Tool input as JSON, used for duplicate suppression")
	cmd.Flags().String("summary", "", "Short human-readable title (required)")
	cmd.Flags().String("source", "", "Origin identifier (default: detected)")
	cmd.Flags().Bool("no-dedup", false, "Skip the duplicate check")

	cmd.MarkFlagRequired("summary")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	obsType, _ := cmd.Flags().GetString("type")
	tool, _ := cmd.Flags().GetString("tool")
	toolInput, _ := cmd.Flags().GetString("tool-input")
	summary, _ := cmd.Flags().GetString("summary")
	source, _ := cmd.Flags().GetString("source")
	noDedup, _ := cmd.Flags().GetBool("no-dedup")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	dir := storeDir()

	if tool != "" && toolInput != "" && !noDedup {
		var input any
		if err := json.Unmarshal([]byte(toolInput), &input); err != nil {
			input = toolInput
		}
		ledger := &dedup.Ledger{Dir: dir, Logger: logger()}
		dup, err := ledger.IsDuplicate(dir, tool, input)
		if err != nil {
			// Dedup is advisory; never block the write over it.
			logger().Warn("dedup check failed", "error", err)
		}
		if dup {
			fmt.Println(`{"skipped":true,"reason":"duplicate"}`)
			return
		}
	}

	if sessionFlag == "" {
		registry := &session.Registry{Dir: dir, Logger: logger()}
		sessionFlag = registry.GetSessionID("")
	}

	s, err := openSession()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if source == "" {
		source = session.DetectSource()
	}

	frameID, err := s.Remember(cmd.Context(), model.ObservationInput{
		Type:    obsType,
		Tool:    tool,
		Summary: summary,
		Content: strings.TrimSpace(content),
		Metadata: map[string]string{
			model.MetaSource: source,
		},
	})
	if err != nil {
		exitErr("remember", err)
	}

	out, _ := json.Marshal(map[string]string{"id": frameID})
	fmt.Println(string(out))
}

// readContent takes positional args first, then piped stdin.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}
