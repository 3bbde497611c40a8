package converter

import (
	"github.com/google/uuid"

	"github.com/fhirhub/go-fhirhub/internal/fhir/r4"
)

type resourceKey struct {
	resourceType string
	id           string
}

// Context is the per-call registry of produced resources. It is not safe for
// concurrent use and must not outlive a single conversion.
type Context struct {
	order     []resourceKey
	resources map[resourceKey]r4.Resource
	opts      Options
}

// NewContext returns an empty context.
func NewContext(opts Options) *Context {
	return &Context{
		resources: make(map[resourceKey]r4.Resource),
		opts:      opts,
	}
}

// Options returns the options of the current call.
func (c *Context) Options() Options {
	return c.opts
}

// NewID returns an id unique within the call.
func (c *Context) NewID() string {
	return uuid.New().String()
}

// AddResource upserts by (resourceType, id). The first insert fixes the
// bundle position; later writes replace the stored value.
func (c *Context) AddResource(r r4.Resource) {
	k := resourceKey{resourceType: r.GetResourceType(), id: r.GetID()}
	if _, ok := c.resources[k]; !ok {
		c.order = append(c.order, k)
	}
	c.resources[k] = r
}

// ResourceByType returns the first resource of the given type in insertion
// order. A second resource of the same type is never returned.
func (c *Context) ResourceByType(resourceType string) (r4.Resource, bool) {
	for _, k := range c.order {
		if k.resourceType == resourceType {
			return c.resources[k], true
		}
	}
	return nil, false
}

// Patient returns the first Patient.
func (c *Context) Patient() (*r4.Patient, bool) {
	r, ok := c.ResourceByType(r4.TypePatient)
	if !ok {
		return nil, false
	}
	p, ok := r.(*r4.Patient)
	return p, ok
}

// Encounter returns the first Encounter.
func (c *Context) Encounter() (*r4.Encounter, bool) {
	r, ok := c.ResourceByType(r4.TypeEncounter)
	if !ok {
		return nil, false
	}
	e, ok := r.(*r4.Encounter)
	return e, ok
}

// Len returns the number of tracked resources.
func (c *Context) Len() int {
	return len(c.order)
}

// ToBundle serializes tracked resources into a transaction bundle.
func (c *Context) ToBundle() *r4.Bundle {
	b := r4.NewTransactionBundle(c.NewID())
	for _, k := range c.order {
		b.AddCreate(c.resources[k])
	}
	return b
}
