package exact

import (
	"context"
	"fmt"
)

// Endpoints of the bundled resource clients
const (
	EndpointMe          = "current/Me"
	EndpointSystemUsers = "system/Users"
	EndpointDivisions   = "system/Divisions"
	EndpointAccounts    = "crm/Accounts"
	EndpointContacts    = "crm/Contacts"
	EndpointItems       = "logistics/Items"
)

// Me is the authenticated user as returned by current/Me
type Me struct {
	UserID           string `json:"UserID"`
	UserName         string `json:"UserName"`
	FullName         string `json:"FullName"`
	Email            string `json:"Email"`
	LanguageCode     string `json:"LanguageCode"`
	CurrentDivision  int    `json:"CurrentDivision"`
	DivisionCustomer string `json:"DivisionCustomer,omitempty"`
}

// SystemUser is an entry of system/Users
type SystemUser struct {
	UserID    string `json:"UserID,omitempty"`
	UserName  string `json:"UserName,omitempty"`
	FullName  string `json:"FullName,omitempty"`
	Email     string `json:"Email,omitempty"`
	Customer  string `json:"Customer,omitempty"`
	StartDate *Date  `json:"StartDate,omitempty"`
	EndDate   *Date  `json:"EndDate,omitempty"`
}

// Division is an administration the user has access to
type Division struct {
	Code         int    `json:"Code"`
	Description  string `json:"Description"`
	HID          int64  `json:"HID"`
	Customer     string `json:"Customer,omitempty"`
	CustomerName string `json:"CustomerName,omitempty"`
	Country      string `json:"Country,omitempty"`
	Currency     string `json:"Currency,omitempty"`
	Main         bool   `json:"Main"`
}

// Account is a CRM relation (customer, supplier, prospect)
type Account struct {
	ID         string `json:"ID,omitempty"`
	Code       string `json:"Code,omitempty"`
	Name       string `json:"Name,omitempty"`
	Email      string `json:"Email,omitempty"`
	Phone      string `json:"Phone,omitempty"`
	City       string `json:"City,omitempty"`
	Country    string `json:"Country,omitempty"`
	Status     string `json:"Status,omitempty"`
	IsSupplier bool   `json:"IsSupplier,omitempty"`
	Division   int    `json:"Division,omitempty"`
	Created    *Date  `json:"Created,omitempty"`
	Modified   *Date  `json:"Modified,omitempty"`
}

// Contact is a person linked to an Account
type Contact struct {
	ID        string `json:"ID,omitempty"`
	Account   string `json:"Account,omitempty"`
	FirstName string `json:"FirstName,omitempty"`
	LastName  string `json:"LastName,omitempty"`
	FullName  string `json:"FullName,omitempty"`
	Email     string `json:"Email,omitempty"`
	Phone     string `json:"Phone,omitempty"`
	Created   *Date  `json:"Created,omitempty"`
	Modified  *Date  `json:"Modified,omitempty"`
}

// Item is a logistics article
type Item struct {
	ID          string  `json:"ID,omitempty"`
	Code        string  `json:"Code,omitempty"`
	Description string  `json:"Description,omitempty"`
	IsSalesItem bool    `json:"IsSalesItem,omitempty"`
	Unit        string  `json:"Unit,omitempty"`
	CostPrice   float64 `json:"CostPriceStandard,omitempty"`
	Created     *Date   `json:"Created,omitempty"`
	Modified    *Date   `json:"Modified,omitempty"`
}

func Accounts(api API) *Resource[Account]       { return NewResource[Account](api, EndpointAccounts) }
func Contacts(api API) *Resource[Contact]       { return NewResource[Contact](api, EndpointContacts) }
func Items(api API) *Resource[Item]             { return NewResource[Item](api, EndpointItems) }
func Divisions(api API) *Resource[Division]     { return NewResource[Division](api, EndpointDivisions) }
func SystemUsers(api API) *Resource[SystemUser] { return NewResource[SystemUser](api, EndpointSystemUsers) }

// CurrentUser retrieves the authenticated user. It works without a division.
func CurrentUser(ctx context.Context, api API) (*Me, error) {
	res, err := api.Get(ctx, EndpointMe, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return decodeOne[Me](res)
}

// ResolveDivision adopts the user's current division when none is set and
// returns the division in effect.
func (c *Connection) ResolveDivision(ctx context.Context) (int, error) {
	if division := c.Division(); division != 0 {
		return division, nil
	}
	me, err := CurrentUser(ctx, c)
	if err != nil {
		return 0, err
	}
	if me.CurrentDivision == 0 {
		return 0, &ConfigError{Field: "division", Err: ErrDivisionRequired}
	}
	c.SetDivision(me.CurrentDivision)

	c.logger.Debug().Int("division", me.CurrentDivision).Msg("Resolved current division")
	return me.CurrentDivision, nil
}
