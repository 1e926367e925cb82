package directory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zulandar/postavshik/internal/models"
)

// ListSuppliers returns one page of suppliers matching filters. Search text
// is trimmed; an all-blank search is dropped.
func (c *Client) ListSuppliers(ctx context.Context, filters models.SupplierFilters) (models.Page[models.Supplier], error) {
	filters.Search = strings.TrimSpace(filters.Search)
	data, err := c.do(ctx, "list suppliers", http.MethodGet, "/suppliers/", filters, nil, false)
	if err != nil {
		return models.Page[models.Supplier]{}, err
	}
	page, err := models.DecodePage[models.Supplier](data)
	if err != nil {
		return models.Page[models.Supplier]{}, fmt.Errorf("directory: list suppliers: decode: %w", err)
	}
	return page, nil
}

// VerifySupplier triggers a registry verification for a supplier. The check
// runs server-side; the returned handle only identifies the queued task.
func (c *Client) VerifySupplier(ctx context.Context, supplierID int) (models.VerificationTask, error) {
	if supplierID <= 0 {
		return models.VerificationTask{}, fmt.Errorf("directory: verify supplier: invalid id %d", supplierID)
	}
	path := fmt.Sprintf("/suppliers/%d/verify/", supplierID)
	data, err := c.do(ctx, "verify supplier", http.MethodPost, path, nil, struct{}{}, false)
	if err != nil {
		return models.VerificationTask{}, err
	}
	var task models.VerificationTask
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := decode("verify supplier", data, &task); err != nil {
			return models.VerificationTask{}, err
		}
	}
	if task.Status == "" {
		task.Status = models.VerificationInProgress
	}
	return task, nil
}

// SupplierContacts fetches the contact details of a supplier.
func (c *Client) SupplierContacts(ctx context.Context, supplierID int) (models.Contacts, error) {
	if supplierID <= 0 {
		return models.Contacts{}, fmt.Errorf("directory: supplier contacts: invalid id %d", supplierID)
	}
	path := fmt.Sprintf("/suppliers/%d/contacts/", supplierID)
	data, err := c.do(ctx, "supplier contacts", http.MethodGet, path, nil, nil, false)
	if err != nil {
		return models.Contacts{}, err
	}
	var contacts models.Contacts
	if err := decode("supplier contacts", data, &contacts); err != nil {
		return models.Contacts{}, err
	}
	return contacts, nil
}
