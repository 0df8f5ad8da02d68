package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/marketpulse/internal/entity"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/store/badger"
)

// --- Corpus Commands ---

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Build and import the instrument reference corpus",
}

var corpusBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a corpus file from an exchange listing CSV",
	Long: `Build a TOML corpus from a listing CSV with the columns Symbol,
Company Name and Industry. Name variants are precomputed and the sector
keyword table of the embedded corpus is carried over.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		outPath, _ := cmd.Flags().GetString("out")
		ver, _ := cmd.Flags().GetString("version")
		if ver == "" {
			ver = time.Now().Format("2006.01.02")
		}

		f, err := os.Open(csvPath)
		if err != nil {
			return err
		}
		defer f.Close()

		base, err := entity.DefaultCorpus()
		if err != nil {
			return err
		}
		c, err := entity.BuildCorpus(f, ver, base.Sectors)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if outPath != "" {
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()
			w = out
		}
		if err := c.Encode(w); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Println(successStyle.Render(fmt.Sprintf("wrote %d instruments to %s", len(c.Instruments), outPath)))
		}
		return nil
	},
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a corpus file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := entity.LoadCorpus(args[0])
		if err != nil {
			return err
		}
		st, err := badger.Open(cfg.Storage.Path, infra.NewLogger(cfg.Logging.Level))
		if err != nil {
			return err
		}
		defer st.Close()

		n, s, err := entity.Import(cmd.Context(), c, st)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("imported %d instruments and %d sectors (version %s)", n, s, c.Version)))
		return nil
	},
}

func init() {
	corpusBuildCmd.Flags().String("csv", "", "listing CSV path")
	corpusBuildCmd.Flags().String("out", "", "output file (default stdout)")
	corpusBuildCmd.Flags().String("version", "", "corpus version (default today's date)")
	_ = corpusBuildCmd.MarkFlagRequired("csv")

	corpusCmd.AddCommand(corpusBuildCmd)
	corpusCmd.AddCommand(corpusImportCmd)
}
