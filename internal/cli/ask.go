package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from stored observations",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	s, err := openSession()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	answer, err := s.Ask(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("ask", err)
	}
	fmt.Println(answer)
}
