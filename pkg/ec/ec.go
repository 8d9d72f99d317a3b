/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ec provides the small HTTP controller the emulator uses for its
// read-only debug surface: routers contribute named routes, the controller
// serves them with permissive CORS, and responses are encoded uniformly.
package ec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

var (
	GET_METHOD    = strings.ToUpper("Get")
	POST_METHOD   = strings.ToUpper("Post")
	PATCH_METHOD  = strings.ToUpper("Patch")
	DELETE_METHOD = strings.ToUpper("Delete")
)

// Logger is the logging handle passed to routers.
type Logger = *logrus.Entry

// Route is one named HTTP route.
type Route struct {
	Name        string
	Method      string
	Path        string
	HandlerFunc http.HandlerFunc
}

// Routes -
type Routes []Route

// Router is implemented by anything contributing routes to a controller.
type Router interface {
	Routes() Routes

	Name() string
	Init(Logger) error
	Start() error
	Close() error
}

// Routers -
type Routers []Router

// Options control controller initialization.
type Options struct {
	Http    bool
	Log     bool
	Verbose bool
}

// Controller serves the routes of its routers over HTTP.
type Controller struct {
	Name    string
	Port    int
	Routers Routers

	Log    Logger
	mux    *mux.Router
	server *http.Server
}

// ResponseWriter is an in-memory http.ResponseWriter used when requests are
// delivered without a network listener.
type ResponseWriter struct {
	Hdr        http.Header
	StatusCode int
	Buffer     *bytes.Buffer
}

func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{
		Hdr:        http.Header{},
		StatusCode: http.StatusOK,
		Buffer:     bytes.NewBuffer([]byte{}),
	}
}

func (r *ResponseWriter) Header() http.Header { return r.Hdr }

func (r *ResponseWriter) Write(b []byte) (int, error) { return r.Buffer.Write(b) }

func (r *ResponseWriter) WriteHeader(s int) { r.StatusCode = s }

// Init builds the controller's logger and route table; every router's Init
// runs here so Send works before Run.
func (c *Controller) Init(opts *Options) error {
	logger := logrus.New()
	if opts != nil && opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	c.Log = logger.WithField("controller", c.Name)

	m := mux.NewRouter().StrictSlash(true)

	for _, router := range c.Routers {
		if err := router.Init(c.Log.WithField("router", router.Name())); err != nil {
			return fmt.Errorf("%s failed to initialize: %w", router.Name(), err)
		}

		for _, route := range router.Routes() {
			m.
				Name(route.Name).
				Methods(route.Method).
				Path(route.Path).
				Handler(route.HandlerFunc)
		}
	}

	c.mux = m

	return nil
}

// Run starts the routers and serves HTTP until Close.
func (c *Controller) Run() error {
	if c.mux == nil {
		if err := c.Init(&Options{}); err != nil {
			return err
		}
	}

	for _, router := range c.Routers {
		if err := router.Start(); err != nil {
			return fmt.Errorf("%s failed to start: %w", router.Name(), err)
		}
	}

	c.Log.Infof("%s starting on port %d", c.Name, c.Port)

	// Permissive cross origin handling so debug pages can be served from
	// other hosts.
	cr := cors.AllowAll()

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Port),
		Handler: cr.Handler(c.mux),
	}

	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Send delivers a request to the controller's routes directly, without a
// network listener.
func (c *Controller) Send(w http.ResponseWriter, r *http.Request) {
	if c.mux == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	c.mux.ServeHTTP(w, r)
}

// Close stops the HTTP server and every router.
func (c *Controller) Close() {
	if c.server != nil {
		c.server.Close()
		c.server = nil
	}

	for _, router := range c.Routers {
		if err := router.Close(); err != nil && c.Log != nil {
			c.Log.WithError(err).Warnf("%s failed to close", router.Name())
		}
	}
}

// ErrorResponse is the JSON body of every failed request; Model carries the
// JSON encoding of the partially filled response model.
type ErrorResponse struct {
	Status int    `json:"status"`
	Cause  string `json:"cause,omitempty"`
	Error  string `json:"error,omitempty"`
	Model  string `json:"model,omitempty"`
}

// EncodeResponse writes model as JSON on success, or an ErrorResponse built
// from a ControllerError on failure.
func EncodeResponse(model interface{}, err error, w http.ResponseWriter) {
	if err == nil {
		rsp, merr := json.Marshal(model)
		if merr != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(rsp)
		return
	}

	ctrlErr, ok := err.(*ControllerError)
	if !ok {
		ctrlErr = NewErrInternalServerError().WithError(err)
	}

	body := ErrorResponse{
		Status: ctrlErr.StatusCode,
		Cause:  ctrlErr.Cause,
	}

	if ctrlErr.Err != nil {
		body.Error = ctrlErr.Err.Error()
	}

	if model != nil {
		if m, merr := json.Marshal(model); merr == nil {
			body.Model = string(m)
		}
	}

	rsp, merr := json.Marshal(&body)
	if merr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ctrlErr.StatusCode)
	w.Write(rsp)
}
