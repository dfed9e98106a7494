package web

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/jnb666/textcnn/nnet"
	"go.uber.org/zap"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Tuners []Field
	Layers []Layer
	net    *Network
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view and update the network config
func NewConfigPage(t *Templates, net *Network) *ConfigPage {
	p := &ConfigPage{net: net}
	p.Templates = t.Clone().Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	p.load(net.Conf)
	return p
}

func (p *ConfigPage) load(conf nnet.Config) {
	p.Fields = getFields(conf)
	p.Tuners = getTuners(p.net.Tuners)
	p.Layers = getLayers(conf)
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = template.HTML("config: " + template.HTMLEscapeString(p.net.File))
		p.Exec(w, r, "config", p)
	}
}

// Handler function for the config form save action. The network is reinitialised with the new settings.
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if p.net.running {
			p.Flash(w, r, "cannot update config while training is running")
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			logError(w, err)
			return
		}
		haveErrors := false
		conf := p.net.Conf
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			var err error
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				conf, err = conf.SetBool(fld.Name, p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
				conf, err = conf.SetString(fld.Name, val)
			}
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		tuners := make([]TuneParams, len(p.Tuners))
		for i, fld := range p.Tuners {
			val := r.Form.Get("tune_" + fld.Name)
			p.Tuners[i].Value = val
			p.Tuners[i].Error = ""
			tuners[i] = TuneParams{Name: fld.Name, Values: splitValues(val)}
			if len(tuners[i].Values) == 0 {
				tuners[i].Values = []string{fmt.Sprint(conf.Get(fld.Name))}
			}
			for _, v := range tuners[i].Values {
				if _, err := conf.SetString(fld.Name, v); err != nil {
					p.Tuners[i].Error = "invalid syntax"
					haveErrors = true
				}
			}
		}
		if haveErrors {
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if err := conf.Validate(); err != nil {
			p.Flash(w, r, err.Error())
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if err := p.update(conf, tuners); err != nil {
			p.Flash(w, r, err.Error())
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config reset action
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if p.net.running {
			p.Flash(w, r, "cannot update config while training is running")
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		conf := nnet.DefaultConfig()
		conf.PositiveFile = p.net.Conf.PositiveFile
		conf.NegativeFile = p.net.Conf.NegativeFile
		conf.OutDir = p.net.Conf.OutDir
		tuners := make([]TuneParams, len(tuneOpts))
		for i, opt := range tuneOpts {
			tuners[i] = TuneParams{Name: opt, Values: []string{fmt.Sprint(conf.Get(opt))}}
		}
		if err := p.update(conf, tuners); err != nil {
			p.Flash(w, r, err.Error())
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// save the new settings and restart the network, called with the lock held
func (p *ConfigPage) update(conf nnet.Config, tuners []TuneParams) error {
	logger.Info("update config", zap.String("file", p.net.File))
	if p.net.File != "" {
		if err := conf.Save(p.net.File); err != nil {
			return err
		}
	}
	p.net.Conf = conf
	p.net.Tuners = tuners
	p.net.Run = 0
	p.load(conf)
	p.net.saveState()
	return p.net.Start(conf, false)
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getTuners(params []TuneParams) []Field {
	flds := make([]Field, len(params))
	for i, p := range params {
		flds[i] = Field{Name: p.Name, Value: strings.Join(p.Values, ", ")}
	}
	return flds
}

func getLayers(conf nnet.Config) []Layer {
	conf, err := conf.TextCNN()
	if err != nil {
		return []Layer{{Desc: err.Error()}}
	}
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}

func splitValues(s string) []string {
	var vals []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}
