package amocrm

import (
	"context"

	"github.com/rotisserie/eris"
)

// maxPages guards against a server that never stops returning next links.
const maxPages = 10000

// CollectLeads drains every page of leads created inside [from, to].
func CollectLeads(ctx context.Context, c Client, from, to int64, pipelineIDs []int64) ([]Lead, error) {
	var all []Lead
	for page := 1; page <= maxPages; page++ {
		p, err := c.Leads(ctx, LeadsQuery{From: from, To: to, PipelineIDs: pipelineIDs, Page: page})
		if err != nil {
			return nil, eris.Wrapf(err, "amocrm: collect leads page %d", page)
		}
		all = append(all, p.Leads...)
		if p.Next == "" || len(p.Leads) == 0 {
			return all, nil
		}
	}
	return nil, eris.Errorf("amocrm: collect leads: more than %d pages", maxPages)
}

// CollectUsers drains every page of account users.
func CollectUsers(ctx context.Context, c Client) ([]User, error) {
	var all []User
	for page := 1; page <= maxPages; page++ {
		p, err := c.Users(ctx, page)
		if err != nil {
			return nil, eris.Wrapf(err, "amocrm: collect users page %d", page)
		}
		all = append(all, p.Users...)
		if p.Next == "" || len(p.Users) == 0 {
			return all, nil
		}
	}
	return nil, eris.Errorf("amocrm: collect users: more than %d pages", maxPages)
}
