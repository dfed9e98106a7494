package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/num"
	"github.com/jnb666/textcnn/run"
	"github.com/jnb666/textcnn/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// command line flags and the config fields they set
var trainFlags = []struct {
	flag, field, usage string
}{
	{"positive-data-file", "PositiveFile", "data source for the positive data"},
	{"negative-data-file", "NegativeFile", "data source for the negative data"},
	{"dev-sample-percentage", "DevPercent", "fraction of the training data to use for validation"},
	{"dev-samples", "DevSamples", "number of validation samples, overrides dev-sample-percentage if set"},
	{"max-seq-len", "MaxSeqLen", "maximum sentence length in words, 0 for no limit"},
	{"embedding-dim", "EmbeddingDim", "dimensionality of the word embedding"},
	{"filter-sizes", "FilterSizes", "comma-separated filter sizes"},
	{"num-filters", "NumFilters", "number of filters per filter size"},
	{"dropout-keep-prob", "DropoutKeep", "dropout keep probability"},
	{"l2-reg-lambda", "Lambda", "L2 regularization lambda"},
	{"optimizer", "Optimizer", "optimizer: adam or sgd"},
	{"learning-rate", "Eta", "learning rate"},
	{"batch-size", "TrainBatch", "training batch size"},
	{"test-batch-size", "TestBatch", "batch size for evaluating the dev set"},
	{"num-epochs", "MaxEpoch", "number of training epochs"},
	{"evaluate-every", "EvaluateEvery", "evaluate model on dev set after this many steps"},
	{"checkpoint-every", "CheckpointEvery", "save model after this many steps"},
	{"num-checkpoints", "NumCheckpoints", "number of checkpoints to store"},
	{"log-every", "LogEvery", "log training loss after this many steps"},
	{"histogram-every", "HistogramEvery", "write gradient histograms after this many steps"},
	{"stop-after", "StopAfter", "stop if the dev error has not improved for this many epochs, 0 to disable"},
	{"seed", "RandSeed", "random number seed, 0 to seed from the time"},
	{"threads", "Threads", "number of worker threads, 0 for all cores"},
	{"out-dir", "OutDir", "directory to write runs to"},
	{"checkpoint", "Resume", "resume training from the latest checkpoint in this run directory"},
	{"debug", "DebugLevel", "debug logging level"},
	{"profile", "Profile", "log kernel profiling info"},
}

var configFile string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a classifier from positive and negative example sentences",
	Long: `Train loads the positive and negative examples, holds back a dev set, and trains the network.
Summaries, checkpoints, the vocabulary and the config are written to a new directory under out-dir.
Settings are read from the --config file if given, then overridden by any flags which are set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := trainConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return train(ctx, cmd.OutOrStdout(), conf)
	},
}

func init() {
	def := nnet.DefaultConfig()
	flags := trainCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "JSON or YAML config file")
	for _, f := range trainFlags {
		switch v := def.Get(f.field).(type) {
		case string:
			flags.String(f.flag, v, f.usage)
		case int:
			flags.Int(f.flag, v, f.usage)
		case int64:
			flags.Int64(f.flag, v, f.usage)
		case float64:
			flags.Float64(f.flag, v, f.usage)
		case bool:
			flags.Bool(f.flag, v, f.usage)
		default:
			panic(fmt.Sprintf("unsupported flag type %T for %s", v, f.field))
		}
	}
}

// config from the file or the defaults with changed flags applied
func trainConfig(cmd *cobra.Command) (nnet.Config, error) {
	conf := nnet.DefaultConfig()
	var err error
	if configFile != "" {
		if conf, err = nnet.LoadConfig(configFile); err != nil {
			return conf, err
		}
	}
	for _, f := range trainFlags {
		flag := cmd.Flags().Lookup(f.flag)
		if !flag.Changed {
			continue
		}
		if conf, err = conf.SetString(f.field, flag.Value.String()); err != nil {
			return conf, fmt.Errorf("--%s: %w", f.flag, err)
		}
	}
	return conf, conf.Validate()
}

func printParams(w io.Writer, conf nnet.Config) {
	fields := conf.Fields()
	sort.Strings(fields)
	fmt.Fprintln(w, "Parameters:")
	for _, name := range fields {
		fmt.Fprintf(w, "%s=%v\n", strings.ToUpper(name), conf.Get(name))
	}
	fmt.Fprintln(w)
}

// model settings are taken from the saved run when resuming
func resumeConfig(conf, saved nnet.Config) nnet.Config {
	conf.EmbeddingDim = saved.EmbeddingDim
	conf.FilterSizes = saved.FilterSizes
	conf.NumFilters = saved.NumFilters
	conf.DropoutKeep = saved.DropoutKeep
	conf.MaxSeqLen = saved.MaxSeqLen
	conf.Layers = saved.Layers
	return conf
}

func train(ctx context.Context, w io.Writer, conf nnet.Config) error {
	var (
		dir        *run.Dir
		corpus     *text.Corpus
		checkpoint string
		err        error
	)
	if conf.Resume != "" {
		saved, vocab, seqLen, err := run.Load(conf.Resume)
		if err != nil {
			return err
		}
		conf = resumeConfig(conf, saved)
		if checkpoint, err = run.Latest(conf.Resume); err != nil {
			return err
		}
		if corpus, err = text.ReadCorpus(conf.PositiveFile, conf.NegativeFile, vocab, seqLen); err != nil {
			return err
		}
		if dir, err = run.Open(conf.Resume); err != nil {
			return err
		}
	} else {
		if corpus, err = text.LoadCorpus(conf.PositiveFile, conf.NegativeFile, conf.MaxSeqLen); err != nil {
			return err
		}
	}
	printParams(w, conf)
	netConf, err := conf.TextCNN()
	if err != nil {
		return err
	}
	if dir == nil {
		if dir, err = run.Create(conf.OutDir, netConf, corpus.Vocab, corpus.SeqLen()); err != nil {
			return err
		}
	}
	defer dir.Close()
	fmt.Fprintf(w, "Writing to %s\n\n", dir.Path)

	rng := nnet.NewRand(conf.RandSeed)
	trainSet, devSet, err := corpus.Split(conf.DevPercent, conf.DevSamples, rng)
	if err != nil {
		return err
	}
	counts := corpus.Counts()
	logger.Info("loaded data", zap.Int("vocabulary", corpus.VocabSize()), zap.Int("sequence length", corpus.SeqLen()),
		zap.Int("negative", counts[0]), zap.Int("positive", counts[1]))
	fmt.Fprintf(w, "Vocabulary Size: %d\nTrain/Dev split: %d/%d\n", corpus.VocabSize(), trainSet.Len(), devSet.Len())

	q := num.NewDevice().NewQueue(conf.Threads)
	defer q.Shutdown()
	trainData := nnet.NewDataset(q.Dev(), trainSet, conf.TrainBatch, rng)
	defer trainData.Release()
	net, err := nnet.New(q, netConf, trainData.BatchSize, trainSet, rng)
	if err != nil {
		return err
	}
	defer net.Release()
	net.InitWeights(rng)
	fmt.Fprintln(w, net)

	tester, err := nnet.NewTestLogger(q, netConf, devSet, rng)
	if r, ok := tester.(interface{ Release() }); ok {
		defer r.Release()
	}
	if err != nil {
		return err
	}
	opt, err := nnet.NewOptimizer(netConf)
	if err != nil {
		return err
	}
	trainer := nnet.NewTrainer(net, opt, trainData, tester)
	dir.Attach(trainer)
	if checkpoint != "" {
		logger.Info("restore checkpoint", zap.String("file", checkpoint))
		if err = trainer.Restore(checkpoint); err != nil {
			return err
		}
	}
	if err = trainer.Train(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("training stopped", zap.Int("epoch", trainer.Epoch), zap.Int("step", trainer.Step))
			return nil
		}
		return err
	}
	logger.Info("training complete", zap.Stringer("step time ms", &trainer.StepTime))
	path, err := trainer.SaveCheckpoint()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved model checkpoint to %s\n", path)
	return nil
}
