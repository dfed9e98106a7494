package web

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter sets up the handlers for each page. Requests are authenticated using auth.
func NewRouter(net *Network, t *Templates, auth AuthMiddleware) *mux.Router {
	trainPage := NewTrainPage(t, net)
	samplesPage := NewSamplesPage(t, net)
	weightsPage := NewWeightsPage(t, net)
	configPage := NewConfigPage(t, net)

	r := mux.NewRouter()
	r.Use(auth.Middleware)
	r.Handle("/", http.RedirectHandler("/train/stats", http.StatusFound))
	r.PathPrefix("/static/").Handler(Static())

	r.Handle("/train", http.RedirectHandler("/train/stats", http.StatusFound))
	r.HandleFunc("/train/{cmd:(?:stats|start|stop|continue|tune)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.Handle("/samples", http.RedirectHandler("/samples/all/1", http.StatusFound))
	r.HandleFunc("/samples/{inc:(?:all|errors)}/{page:[0-9]+}", samplesPage.Base())

	r.HandleFunc("/weights", weightsPage.Base())
	r.HandleFunc("/weights/{index:[0-9]+}.png", weightsPage.Image())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())
	return r
}
