package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/num"
	"github.com/jnb666/textcnn/run"
	"github.com/jnb666/textcnn/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var predictOpts struct {
	runDir     string
	checkpoint string
	input      string
	posFile    string
	negFile    string
}

var predictCmd = &cobra.Command{
	Use:   "predict [sentence...]",
	Short: "Classify sentences using a trained model",
	Long: `Predict restores the network from a run directory and prints the predicted class for each sentence.
Sentences are taken from the arguments, or one per line from the --input file. If labelled
--positive-data-file and --negative-data-file are given then the accuracy is also printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return predict(cmd.OutOrStdout(), args)
	},
}

func init() {
	flags := predictCmd.Flags()
	flags.StringVar(&predictOpts.runDir, "run", "", "run directory containing the vocabulary and checkpoints")
	flags.StringVar(&predictOpts.checkpoint, "checkpoint", "", "checkpoint file, defaults to the latest in the run")
	flags.StringVarP(&predictOpts.input, "input", "i", "", "file with sentences to classify, one per line")
	flags.StringVar(&predictOpts.posFile, "positive-data-file", "", "labelled positive examples")
	flags.StringVar(&predictOpts.negFile, "negative-data-file", "", "labelled negative examples")
	predictCmd.MarkFlagRequired("run")
	predictCmd.MarkFlagsRequiredTogether("positive-data-file", "negative-data-file")
}

func predict(w io.Writer, args []string) error {
	opts := predictOpts
	conf, vocab, seqLen, err := run.Load(opts.runDir)
	if err != nil {
		return err
	}
	var corpus *text.Corpus
	labelled := opts.posFile != ""
	switch {
	case labelled:
		if corpus, err = text.ReadCorpus(opts.posFile, opts.negFile, vocab, seqLen); err != nil {
			return err
		}
	case opts.input != "":
		lines, err := text.ReadLines(opts.input)
		if err != nil {
			return err
		}
		corpus = text.Encode(lines, vocab, seqLen)
	default:
		corpus = text.Encode(args, vocab, seqLen)
	}
	if corpus.Len() == 0 {
		return errors.New("no sentences to classify")
	}
	if opts.checkpoint == "" {
		if opts.checkpoint, err = run.Latest(opts.runDir); err != nil {
			return err
		}
	}
	pred, accuracy, err := classify(conf, corpus, opts.checkpoint)
	if err != nil {
		return err
	}
	for i, p := range pred {
		fmt.Fprintf(w, "%s\t%s\n", text.Classes[p], corpus.Text(i))
	}
	if labelled {
		fmt.Fprintf(w, "\nTotal number of test examples: %d\nAccuracy: %g\n", corpus.Len(), accuracy)
	}
	return nil
}

// restore the network from the checkpoint file and get the predicted class for each sentence
func classify(conf nnet.Config, corpus *text.Corpus, checkpoint string) (pred []int32, accuracy float64, err error) {
	logger.Info("classify", zap.Int("sentences", corpus.Len()), zap.String("checkpoint", checkpoint))
	c, err := nnet.LoadCheckpoint(checkpoint)
	if err != nil {
		return nil, 0, err
	}
	netConf, err := conf.TextCNN()
	if err != nil {
		return nil, 0, err
	}
	rng := nnet.NewRand(conf.RandSeed)
	q := num.NewDevice().NewQueue(conf.Threads)
	defer q.Shutdown()
	dset := nnet.NewDataset(q.Dev(), corpus, conf.TestBatch, rng)
	defer dset.Release()
	net, err := nnet.New(q, netConf, dset.BatchSize, corpus, rng)
	if err != nil {
		return nil, 0, err
	}
	defer net.Release()
	if err = net.Restore(c, nil); err != nil {
		return nil, 0, err
	}
	pred = make([]int32, corpus.Len())
	_, accuracy = net.Evaluate(dset, pred)
	return pred, accuracy, nil
}
