package mirror

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// path -> graph factory. One registry is owned by the server process
type Registry struct {
	stateLock sync.Mutex
	factories map[string]GraphFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]GraphFactory{},
	}
}

// each connection to `path` gets the graph `factory` returns.
// publishing to an existing path replaces it for new connections only
func (self *Registry) Publish(path string, factory GraphFactory) {
	path = normalizePath(path)
	glog.V(1).Infof("[r]publish %s\n", path)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.factories[path] = factory
}

// every connection to `path` mirrors the same graph instance
func (self *Registry) PublishGraph(path string, graph Graph) {
	self.Publish(path, func() (Graph, error) {
		return graph, nil
	})
}

func (self *Registry) Unpublish(path string) {
	path = normalizePath(path)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.factories, path)
}

func (self *Registry) Lookup(path string) (GraphFactory, bool) {
	path = normalizePath(path)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	factory, ok := self.factories[path]
	return factory, ok
}

// sorted
func (self *Registry) Paths() []string {
	var factories map[string]GraphFactory
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		factories = maps.Clone(self.factories)
	}()

	paths := make([]string, 0, len(factories))
	for path := range factories {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// runs the factory for `path`. a factory error or panic is a construction failure
func (self *Registry) Construct(path string) (graph Graph, returnErr error) {
	factory, ok := self.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("Path not published: %s", path)
	}
	HandleError(func() {
		graph, returnErr = factory()
	}, func(err error) {
		graph = nil
		returnErr = err
	})
	if returnErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, returnErr)
	}
	if graph == nil {
		return nil, fmt.Errorf("%w: factory returned no graph", ErrConstruction)
	}
	return graph, nil
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
