package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/pashagolub/tierelo/pkg/api"
	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/engine"
	"github.com/pashagolub/tierelo/pkg/metrics"
	"github.com/pashagolub/tierelo/pkg/tier"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler() (http.Handler, *engine.Engine) {
	config := engine.DefaultConfig()
	config.Elo.AdaptiveK = false
	config.Elo.DecayEnabled = false

	clock := elo.FixedClock(testNow)
	eng, err := engine.New(config, engine.WithClock(clock))
	So(err, ShouldBeNil)

	registry := prometheus.NewRegistry()
	server := api.NewServer(eng,
		api.WithClock(clock),
		api.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(registry))),
		api.WithGatherer(registry),
		api.WithTiers(3, func(count int) ([]tier.Template, error) {
			return tier.DefaultTemplates(count), nil
		}),
	)
	return server.Handler(), eng
}

func do(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestHealth(t *testing.T) {
	Convey("Given a fresh server", t, func() {
		handler, _ := newTestHandler()

		Convey("When health is checked before any data arrives", func() {
			w := do(handler, http.MethodGet, "/healthz", "")

			Convey("Then the engine is reported uninitialized", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(w, &resp)
				So(resp["status"], ShouldEqual, "ok")
				So(resp["state"], ShouldEqual, "uninitialized")
				So(resp["items"], ShouldEqual, 0)
			})
		})

		Convey("When items are registered", func() {
			do(handler, http.MethodPost, "/items", `{"ids":["a","b"]}`)
			w := do(handler, http.MethodGet, "/healthz", "")

			Convey("Then the engine is ready", func() {
				var resp map[string]any
				decode(w, &resp)
				So(resp["state"], ShouldEqual, "ready")
				So(resp["items"], ShouldEqual, 2)
			})
		})

		Convey("When a route is called with the wrong method", func() {
			w := do(handler, http.MethodGet, "/items", "")

			Convey("Then it is refused", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}

func TestPostItems(t *testing.T) {
	Convey("Given a fresh server", t, func() {
		handler, eng := newTestHandler()

		Convey("When valid ids are posted twice", func() {
			do(handler, http.MethodPost, "/items", `{"ids":["a","b","c"]}`)
			w := do(handler, http.MethodPost, "/items", `{"ids":["c","d"]}`)

			Convey("Then known items are kept and new ones added", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]int
				decode(w, &resp)
				So(resp["registered"], ShouldEqual, 2)
				So(resp["items"], ShouldEqual, 4)
				So(eng.GetRatings()["d"].Rating, ShouldEqual, 1500)
			})
		})

		Convey("When a blank id is posted", func() {
			w := do(handler, http.MethodPost, "/items", `{"ids":["a"," "]}`)

			Convey("Then nothing is registered", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(eng.Items(), ShouldBeEmpty)
			})
		})

		Convey("When the body is malformed or empty", func() {
			So(do(handler, http.MethodPost, "/items", `{"ids":`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(handler, http.MethodPost, "/items", `{"names":["a"]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(handler, http.MethodPost, "/items", `{"ids":[]}`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestPostComparisons(t *testing.T) {
	Convey("Given a fresh server", t, func() {
		handler, eng := newTestHandler()

		Convey("When a batch with one malformed comparison is posted", func() {
			w := do(handler, http.MethodPost, "/comparisons", `{"comparisons":[
				{"item_a":"a","item_b":"b","winner":"a"},
				{"item_a":"a","item_b":"a","winner":"a"},
				{"item_a":"b","item_b":"c","winner":"draw"}
			]}`)

			Convey("Then the valid ones are applied and the bad one reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Applied  int `json:"applied"`
					Rejected []struct {
						Index  int    `json:"index"`
						Reason string `json:"reason"`
					} `json:"rejected"`
					Items int `json:"items"`
				}
				decode(w, &resp)
				So(resp.Applied, ShouldEqual, 2)
				So(resp.Items, ShouldEqual, 3)
				So(resp.Rejected, ShouldHaveLength, 1)
				So(resp.Rejected[0].Index, ShouldEqual, 1)
				So(resp.Rejected[0].Reason, ShouldContainSubstring, "invalid comparison")

				So(eng.GetRatings()["a"].Rating, ShouldAlmostEqual, 1516, 1e-9)
			})
		})

		Convey("When nothing in the batch can be applied", func() {
			w := do(handler, http.MethodPost, "/comparisons", `{"comparisons":[{"item_a":"a","item_b":"b","winner":"c"}]}`)

			Convey("Then the request is unprocessable", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(eng.Items(), ShouldBeEmpty)
			})
		})

		Convey("When a ranked list is posted", func() {
			w := do(handler, http.MethodPost, "/comparisons", `{"rankings":[["a","b","c"]]}`)

			Convey("Then it is expanded into pairwise comparisons", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				decode(w, &resp)
				So(resp["applied"], ShouldEqual, 3)

				items := eng.Items()
				So(items, ShouldHaveLength, 3)
				So(items[0].ID, ShouldEqual, "a")
				So(items[2].ID, ShouldEqual, "c")
			})
		})

		Convey("When a ranked list repeats an item", func() {
			w := do(handler, http.MethodPost, "/comparisons", `{"rankings":[["a","b","a"]]}`)

			Convey("Then the whole request is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(eng.Items(), ShouldBeEmpty)
			})
		})

		Convey("When the request is empty", func() {
			So(do(handler, http.MethodPost, "/comparisons", `{}`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestTierRoutes(t *testing.T) {
	Convey("Given a server with five ranked items", t, func() {
		handler, _ := newTestHandler()
		w := do(handler, http.MethodPost, "/comparisons", `{"rankings":[["a","b","c","d","e"]]}`)
		So(w.Code, ShouldEqual, http.StatusOK)

		Convey("When ratings are listed", func() {
			w := do(handler, http.MethodGet, "/ratings", "")

			Convey("Then they come highest first", func() {
				var items []elo.RatedItem
				decode(w, &items)
				So(items, ShouldHaveLength, 5)
				So(items[0].ID, ShouldEqual, "a")
				So(items[0].Rating, ShouldBeGreaterThan, items[4].Rating)
			})
		})

		Convey("When tiers are requested with the default count", func() {
			w := do(handler, http.MethodGet, "/tiers", "")

			Convey("Then every item gets exactly one of three tiers", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Tiers       []tier.Definition `json:"tiers"`
					Assignments map[string]string `json:"assignments"`
				}
				decode(w, &resp)
				So(resp.Tiers, ShouldHaveLength, 3)
				So(resp.Tiers[0].Label, ShouldEqual, "S")
				So(tier.ValidateDefinitions(resp.Tiers, 5), ShouldBeNil)
				So(resp.Assignments, ShouldHaveLength, 5)
				So(resp.Assignments["a"], ShouldEqual, "S")
			})
		})

		Convey("When a confidence report is requested for two tiers", func() {
			w := do(handler, http.MethodGet, "/confidence?count=2", "")

			Convey("Then every item is explained in rating order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Tiers      []tier.Definition `json:"tiers"`
					Placements []tier.Confidence `json:"placements"`
				}
				decode(w, &resp)
				So(resp.Tiers, ShouldHaveLength, 2)
				So(resp.Placements, ShouldHaveLength, 5)
				for i, p := range resp.Placements {
					So(p.Position, ShouldEqual, i)
					So(p.Confidence, ShouldBeBetweenOrEqual, 0, 100)
				}
			})
		})

		Convey("When the tier count is invalid", func() {
			So(do(handler, http.MethodGet, "/tiers?count=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(handler, http.MethodGet, "/tiers?count=many", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(handler, http.MethodGet, "/confidence?count=-2", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the tier count is too large", func() {
			w := do(handler, http.MethodGet, "/tiers?count=2000000", "")

			Convey("Then it is refused before any tier is built", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				var resp map[string]string
				decode(w, &resp)
				So(resp["message"], ShouldContainSubstring, "must not exceed 26")
				So(do(handler, http.MethodGet, "/confidence?count=27", "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(handler, http.MethodGet, "/tiers?count=26", "").Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When matchups are requested", func() {
			w := do(handler, http.MethodGet, "/matchups?n=2", "")

			Convey("Then at most n suggestions come back", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var matchups []map[string]any
				decode(w, &matchups)
				So(len(matchups), ShouldBeBetweenOrEqual, 1, 2)
			})

			Convey("And a bad n is refused", func() {
				So(do(handler, http.MethodGet, "/matchups?n=x", "").Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestMetricsRoute(t *testing.T) {
	Convey("Given a server that has served a request", t, func() {
		handler, _ := newTestHandler()
		do(handler, http.MethodGet, "/healthz", "")

		Convey("When metrics are scraped", func() {
			w := do(handler, http.MethodGet, "/metrics", "")

			Convey("Then the request counter is exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring,
					`tierelo_http_requests_total{method="GET",path="healthz",status="200"} 1`)
				So(w.Body.String(), ShouldContainSubstring, "tierelo_engine_items_tracked")
			})
		})
	})
}
