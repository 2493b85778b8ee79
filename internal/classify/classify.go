// Package classify turns raw HTTP outcomes into success or failure signal
// for each named operation the virtual users perform.
package classify

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Operation names an HTTP operation. The value doubles as its metric name.
type Operation string

const (
	BrowseProducts Operation = "Browse Products"
	ViewProduct    Operation = "View Product Details"
	AddFavourite   Operation = "Add to Favourites"
	CreateCart     Operation = "Create Cart"
	CreateOrder    Operation = "Create Order"
	ViewOrders     Operation = "View Orders"
	CreatePayment  Operation = "Create Payment"
	ListUsers      Operation = "List Users"
)

// Operations lists every known operation in catalog order.
var Operations = []Operation{
	BrowseProducts, ViewProduct, AddFavourite, CreateCart,
	CreateOrder, ViewOrders, CreatePayment, ListUsers,
}

// Verdict is the classification of one response.
type Verdict int

const (
	Failure Verdict = iota
	Success
	// Tolerated responses are non-2xx codes counted as success by policy.
	Tolerated
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Tolerated:
		return "tolerated"
	default:
		return "failure"
	}
}

// ReasonInvalidResponse labels 2xx responses whose body could not be parsed.
const ReasonInvalidResponse = "invalid response"

// Outcome is the classification result of one response.
type Outcome struct {
	Verdict    Verdict
	Reason     string
	StatusCode int
	// ID is the identifier extracted from the body (cartId, orderId,
	// productId), or 0 when the operation yields none.
	ID int
}

// OK reports whether the outcome counts as a success in metrics.
func (o Outcome) OK() bool {
	return o.Verdict != Failure
}

func success(status, id int) Outcome {
	return Outcome{Verdict: Success, StatusCode: status, ID: id}
}

func failure(status int, reason string) Outcome {
	return Outcome{Verdict: Failure, StatusCode: status, Reason: reason}
}

func unexpectedStatus(status int) Outcome {
	return failure(status, fmt.Sprintf("unexpected status %d", status))
}

// TransportFailure classifies a request that never produced a response.
func TransportFailure(err error) Outcome {
	return failure(0, err.Error())
}

func created(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}

// Classify applies the response policy for op. It never panics on
// malformed bodies.
func Classify(op Operation, status int, body []byte) Outcome {
	switch op {
	case BrowseProducts:
		if status != http.StatusOK {
			return unexpectedStatus(status)
		}
		if !gjson.ValidBytes(body) {
			return failure(status, ReasonInvalidResponse)
		}
		if len(ExtractCollection(body, ProductResource.Alias)) == 0 {
			return failure(status, "no products returned")
		}
		return success(status, 0)

	case ViewProduct:
		if status == http.StatusNotFound {
			return Outcome{Verdict: Tolerated, StatusCode: status}
		}
		if status != http.StatusOK {
			return unexpectedStatus(status)
		}
		if !gjson.ValidBytes(body) {
			return failure(status, ReasonInvalidResponse)
		}
		id, ok := positiveInt(gjson.GetBytes(body, ProductResource.IDField))
		if !ok {
			return failure(status, "invalid product data")
		}
		return success(status, id)

	case AddFavourite:
		if status == http.StatusConflict {
			return Outcome{Verdict: Tolerated, StatusCode: status}
		}
		if !created(status) {
			return unexpectedStatus(status)
		}
		return success(status, 0)

	case CreateCart:
		if !created(status) {
			return unexpectedStatus(status)
		}
		if !gjson.ValidBytes(body) {
			return failure(status, ReasonInvalidResponse)
		}
		cart := gjson.GetBytes(body, "cartId")
		if cart.Type != gjson.Number {
			return failure(status, "missing cart id")
		}
		id, ok := positiveInt(cart)
		if !ok {
			return failure(status, "missing cart id")
		}
		return success(status, id)

	case CreateOrder:
		if !created(status) {
			return unexpectedStatus(status)
		}
		if !gjson.ValidBytes(body) {
			return failure(status, ReasonInvalidResponse)
		}
		id, _ := positiveInt(gjson.GetBytes(body, OrderResource.IDField))
		return success(status, id)

	case ViewOrders, ListUsers:
		if status != http.StatusOK {
			return unexpectedStatus(status)
		}
		if !gjson.ValidBytes(body) {
			return failure(status, ReasonInvalidResponse)
		}
		return success(status, 0)

	case CreatePayment:
		if !created(status) {
			return unexpectedStatus(status)
		}
		return success(status, 0)
	}

	if status >= 200 && status < 300 {
		return success(status, 0)
	}
	return unexpectedStatus(status)
}
