package commands

import (
	"fmt"

	"caedrepo/pkg/base36"
	"caedrepo/pkg/cpf"

	"github.com/spf13/cobra"
)

var (
	uidSize  int
	uidCount int
)

func init() {
	uidCmd.Flags().IntVar(&uidSize, "size", 12, "The length of each code.")
	uidCmd.Flags().IntVar(&uidCount, "count", 1, "The number of codes to generate.")
	rootCmd.AddCommand(uidCmd)
	rootCmd.AddCommand(cpfCmd)
}

var uidCmd = &cobra.Command{
	Use:   "uid [--size <n>] [--count <n>]",
	Short: "Generates unique base36 codes.",
	Run: func(cmd *cobra.Command, args []string) {
		for range uidCount {
			fmt.Println(base36.UniqueCode(uidSize))
		}
	},
}

var cpfCmd = &cobra.Command{
	Use:   "cpf <number>...",
	Short: "Validates cpf numbers.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invalid := 0
		for _, arg := range args {
			if cpf.Valid(arg) {
				fmt.Printf("%s\tvalid\n", cpf.Format(arg))
				continue
			}
			invalid++
			fmt.Printf("%s\tinvalid\n", arg)
		}
		if invalid > 0 {
			return fmt.Errorf("%d invalid cpf", invalid)
		}
		return nil
	},
}
