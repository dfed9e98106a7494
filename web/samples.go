package web

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jnb666/textcnn/text"
)

const samplesPerPage = 50

type SamplesPage struct {
	*Templates
	Include string
	Page    int
	Pages   int
	Total   int
	Rows    []Sample
	net     *Network
}

// Sample is a dev set sentence with its label and the latest prediction.
type Sample struct {
	Index   int
	Text    string
	Label   string
	Predict string
	Error   bool
}

// Base data for handler functions to view the dev set sentences and predictions
func NewSamplesPage(t *Templates, net *Network) *SamplesPage {
	p := &SamplesPage{net: net, Include: "all", Page: 1}
	p.Templates = t.Clone().Select("/samples")
	p.AddOption(Link{Name: "all", Url: "/samples/all/1"})
	p.AddOption(Link{Name: "errors", Url: "/samples/errors/1"})
	return p
}

// Handler function for the samples page
func (p *SamplesPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		vars := mux.Vars(r)
		p.Include = vars["inc"]
		if p.Include != "errors" {
			p.Include = "all"
		}
		p.Page, _ = strconv.Atoi(vars["page"])
		p.SelectOptions([]string{p.Include})
		p.Heading = p.net.heading()
		index := p.filter()
		p.Total = len(index)
		p.Pages = max(1, (p.Total+samplesPerPage-1)/samplesPerPage)
		p.Page = min(max(p.Page, 1), p.Pages)
		p.Rows = p.Rows[:0]
		start := (p.Page - 1) * samplesPerPage
		for _, i := range index[start:min(start+samplesPerPage, len(index))] {
			p.Rows = append(p.Rows, p.sample(i))
		}
		p.Exec(w, r, "samples", p)
	}
}

func (p *SamplesPage) Prev() string {
	return "/samples/" + p.Include + "/" + strconv.Itoa(max(p.Page-1, 1))
}

func (p *SamplesPage) Next() string {
	return "/samples/" + p.Include + "/" + strconv.Itoa(min(p.Page+1, p.Pages))
}

// indexes of the dev samples to display
func (p *SamplesPage) filter() []int {
	var index []int
	for i, label := range p.net.Labels {
		if p.Include == "errors" && (i >= len(p.net.Pred) || p.net.Pred[i] < 0 || p.net.Pred[i] == label) {
			continue
		}
		index = append(index, i)
	}
	return index
}

func (p *SamplesPage) sample(i int) Sample {
	s := Sample{Index: i + 1, Label: className(p.net.Labels[i])}
	if p.net.Dev != nil {
		s.Text = p.net.Dev.Text(i)
	}
	if i < len(p.net.Pred) && p.net.Pred[i] >= 0 {
		s.Predict = className(p.net.Pred[i])
		s.Error = p.net.Pred[i] != p.net.Labels[i]
	}
	return s
}

func className(c int32) string {
	if c < 0 || int(c) >= len(text.Classes) {
		return ""
	}
	return text.Classes[c]
}
