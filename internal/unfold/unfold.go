// Package unfold implements parent-to-children expansion: one input at
// a scope produces a sequence of child data cells, each independently
// routed and carrying its own product. Modeled on declared_unfold.hpp of
// the dataflow framework this scheduler's design is grounded in.
package unfold

import (
	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

// Func computes the values to fan out under parent, one per child data
// cell, from the product store published at parent.
type Func func(parent *cellindex.Index, in *flowmsg.ProductStore) ([]any, error)

// RouteFunc opens a new child data cell and returns the message id
// assigned to it. Expected to be router.(*Router).Route.
type RouteFunc func(child *cellindex.Index) (flowmsg.MessageID, error)

// EmitFunc delivers one child's product downstream.
type EmitFunc func(child *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID)

// Unfold expands one parent data cell into a sequence of children at
// ChildLayer. Routing each child through Route causes the router to
// account for it automatically when the parent scope later closes, so
// Unfold needs no separate flush bookkeeping of its own.
type Unfold struct {
	Name          string
	ChildLayer    string
	ResultProduct string
	UnfoldFn      Func
	Route         RouteFunc
	Emit          EmitFunc
}

// New constructs an Unfold node.
func New(name, childLayer, resultProduct string, unfoldFn Func, route RouteFunc, emit EmitFunc) *Unfold {
	return &Unfold{
		Name:          name,
		ChildLayer:    childLayer,
		ResultProduct: resultProduct,
		UnfoldFn:      unfoldFn,
		Route:         route,
		Emit:          emit,
	}
}

// HandleInput computes the children of parent and routes+emits each one
// in order, so child numbering reflects UnfoldFn's returned order.
func (u *Unfold) HandleInput(parent *cellindex.Index, in *flowmsg.ProductStore) error {
	values, err := u.UnfoldFn(parent, in)
	if err != nil {
		return cferrors.WrapUser(u.Name, err)
	}

	for i, v := range values {
		child := parent.MakeChild(uint64(i), u.ChildLayer)
		id, err := u.Route(child)
		if err != nil {
			return err
		}
		store := flowmsg.NewProductStore(child, u.Name)
		store.Put(u.ResultProduct, v)
		store.Seal()
		u.Emit(child, store, id)
	}
	return nil
}
