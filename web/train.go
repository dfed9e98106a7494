package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/summary"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
)

const maxHistory = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	net *Network
}

// Base data for handler functions to perform network training and display the stats
func NewTrainPage(t *Templates, net *Network) *TrainPage {
	p := &TrainPage{net: net}
	p.Templates = t.Clone().Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	p.AddOption(Link{Name: "continue", Url: "/train/continue"})
	p.AddOption(Link{Name: "tune", Url: "/train/tune"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		logger.Debug("train page", zap.String("path", r.URL.Path), zap.String("cmd", cmd))
		p.net.Lock()
		defer p.net.Unlock()
		switch cmd {
		case "start", "continue":
			if err := p.net.Train(cmd == "start"); err != nil {
				p.Flash(w, r, err.Error())
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "stop":
			p.net.Stop()
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "tune":
			if p.net.running {
				p.Flash(w, r, "cannot change mode while training is running")
			} else {
				p.net.tuneMode = !p.net.tuneMode
				p.net.MaxRun = 1
				if p.net.tuneMode {
					p.net.MaxRun = len(getRunConfig(p.net.Conf, p.net.Tuners))
				}
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			p.SelectOptions(p.selected())
			p.Heading = p.net.heading()
			p.Exec(w, r, "train", p)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if err := p.ExecuteTemplate(w, "stats", p); err != nil {
			logError(w, err)
		}
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade", zap.Error(err))
			return
		}
		p.net.Lock()
		if p.net.conn != nil {
			p.net.conn.Close()
		}
		p.net.conn = conn
		p.net.Unlock()
	}
}

func (p *TrainPage) selected() []string {
	var opts []string
	if p.net.running {
		opts = append(opts, "start", "continue")
	} else {
		opts = append(opts, "stop")
	}
	if p.net.tuneMode {
		opts = append(opts, "tune")
	}
	return opts
}

func (p *TrainPage) Headers() []string {
	return nnet.StatsHeaders
}

func (p *TrainPage) Running() bool {
	return p.net.running
}

func (p *TrainPage) RunDir() string {
	return p.net.RunDir
}

// Stats for the most recent epochs, latest first.
func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	stats := p.net.test.Stats
	last := len(stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, stats[i])
	}
	return res
}

// Mean and standard deviation of the time per training step.
func (p *TrainPage) StepTime() template.HTML {
	return p.net.stepTime
}

func (p *TrainPage) RunTime() string {
	stats := p.net.test.Stats
	if len(stats) == 0 {
		return ""
	}
	elapsed := stats[len(stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

type historyRow struct {
	Run    int
	Params template.HTML
	Epoch  int
	Values []string
	RunDir string
}

// History of completed runs, latest first.
func (p *TrainPage) History() []historyRow {
	hist := p.net.History
	var rows []historyRow
	for i := len(hist) - 1; i >= 0 && i >= len(hist)-maxHistory; i-- {
		h := hist[i]
		rows = append(rows, historyRow{
			Run:    i + 1,
			Params: template.HTML(tuneParams(h)),
			Epoch:  h.Stats.Epoch,
			Values: h.Stats.Format(),
			RunDir: h.RunDir,
		})
	}
	return rows
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	return p.epochPlot("loss", width, height, 1, 0, 2)
}

func (p *TrainPage) ErrorPlot(width, height int) template.HTML {
	return p.epochPlot("error %", width, height, 100, 1, 3, 4)
}

// Plot of the dev set accuracy recorded in the summaries for the current run.
func (p *TrainPage) AccuracyPlot(width, height int) template.HTML {
	series, err := summary.RunSeries(p.net.RunDir, "accuracy")
	if err != nil {
		logger.Warn("read summaries", zap.Error(err))
		return ""
	}
	plt := summary.NewPlot("accuracy")
	if err = summary.AddLines(plt, series...); err != nil {
		logger.Warn("plot", zap.Error(err))
		return ""
	}
	return writePlot(plt, width, height)
}

func (p *TrainPage) epochPlot(title string, width, height int, scale float64, index ...int) template.HTML {
	var series []summary.Series
	for _, ix := range index {
		s := summary.Series{Name: nnet.StatsHeaders[ix]}
		for _, st := range p.net.test.Stats {
			s.Points = append(s.Points, summary.Scalar{Step: st.Epoch, Value: st.Values[ix] * scale})
		}
		series = append(series, s)
	}
	plt := summary.NewPlot(title)
	plt.X.Label.Text = "epoch"
	if err := summary.AddLines(plt, series...); err != nil {
		logger.Warn("plot", zap.Error(err))
		return ""
	}
	return writePlot(plt, width, height)
}

func writePlot(plt *plot.Plot, width, height int) template.HTML {
	var buf bytes.Buffer
	if err := summary.WriteSVG(plt, &buf, width, height); err != nil {
		logger.Warn("error writing plot", zap.Error(err))
		return ""
	}
	return template.HTML(buf.String())
}
