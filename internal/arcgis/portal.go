package arcgis

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Portal is an ArcGIS Online or Enterprise portal.
type Portal struct {
	client *Client
	url    string
}

// Portal binds a portal base URL to the client.
func (c *Client) Portal(rawURL string) *Portal {
	return &Portal{client: c, url: strings.TrimRight(rawURL, "/")}
}

// URL returns the portal base URL.
func (p *Portal) URL() string { return p.url }

func (p *Portal) rest(path string) string {
	return p.url + "/sharing/rest/" + path
}

func tokenParams(token string) url.Values {
	params := url.Values{}
	if token != "" {
		params.Set("token", token)
	}
	return params
}

// Self describes the portal and, when token is valid, the signed-in user.
func (p *Portal) Self(ctx context.Context, token string) (*PortalSelf, error) {
	var self PortalSelf
	if err := p.client.getJSON(ctx, p.rest("portals/self"), tokenParams(token), &self); err != nil {
		return nil, eris.Wrap(err, "arcgis: portal self")
	}
	return &self, nil
}

// Item fetches the description of an item.
func (p *Portal) Item(ctx context.Context, id, token string) (*ItemInfo, error) {
	var item ItemInfo
	if err := p.client.getJSON(ctx, p.rest("content/items/"+url.PathEscape(id)), tokenParams(token), &item); err != nil {
		return nil, eris.Wrapf(err, "arcgis: item %s", id)
	}
	return &item, nil
}

// ItemData decodes the data of an item into out.
func (p *Portal) ItemData(ctx context.Context, id, token string, out any) error {
	if err := p.client.getJSON(ctx, p.rest("content/items/"+url.PathEscape(id)+"/data"), tokenParams(token), out); err != nil {
		return eris.Wrapf(err, "arcgis: item data %s", id)
	}
	return nil
}

// ThumbnailURL returns the absolute URL of a user's thumbnail, or "" when
// the user has none.
func (p *Portal) ThumbnailURL(user *PortalUser, token string) string {
	if user == nil || user.Thumbnail == "" {
		return ""
	}
	u := p.rest("community/users/" + url.PathEscape(user.Username) + "/info/" + user.Thumbnail)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}
