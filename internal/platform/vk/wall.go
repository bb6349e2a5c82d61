package vk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"postbot/pkg/logx"
)

// Group is one postable community.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Groups lists communities the token can post to. User tokens use
// groups.get (admin filter); community tokens reject that call with the
// group-authorization error, in which case the single community behind the
// token is resolved via groups.getById.
func (c *Client) Groups(ctx context.Context, groupID int64) ([]Group, error) {
	params := url.Values{}
	params.Set("filter", "admin")
	params.Set("extended", "1")

	var resp struct {
		Items []Group `json:"items"`
	}
	err := c.call(ctx, "groups.get", params, &resp)
	if err == nil {
		return resp.Items, nil
	}
	if !IsGroupAuth(err) {
		return nil, err
	}
	if groupID == 0 {
		return nil, errors.New("vk: group token requires vk.group_id to be configured")
	}

	byID := url.Values{}
	byID.Set("group_id", strconv.FormatInt(groupID, 10))
	var groups []Group
	if err := c.call(ctx, "groups.getById", byID, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// UploadWallPhoto runs the three-step wall photo pipeline: request an upload
// server, POST the binary, save the upload. It returns the attachment handle
// ("photo<owner>_<id>") for wall.post.
func (c *Client) UploadWallPhoto(ctx context.Context, groupID int64, data []byte) (string, error) {
	gid := strconv.FormatInt(groupID, 10)

	var server struct {
		UploadURL string `json:"upload_url"`
	}
	params := url.Values{}
	params.Set("group_id", gid)
	if err := c.call(ctx, "photos.getWallUploadServer", params, &server); err != nil {
		return "", err
	}
	if server.UploadURL == "" {
		return "", errors.New("vk: empty upload_url")
	}

	var uploaded struct {
		Photo  string `json:"photo"`
		Server int    `json:"server"`
		Hash   string `json:"hash"`
	}
	if err := c.upload(ctx, server.UploadURL, "photo", "photo.jpg", data, &uploaded); err != nil {
		return "", err
	}

	save := url.Values{}
	save.Set("group_id", gid)
	save.Set("photo", uploaded.Photo)
	save.Set("server", strconv.Itoa(uploaded.Server))
	save.Set("hash", uploaded.Hash)
	var saved []struct {
		ID      int64 `json:"id"`
		OwnerID int64 `json:"owner_id"`
	}
	if err := c.call(ctx, "photos.saveWallPhoto", save, &saved); err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", errors.New("vk: photos.saveWallPhoto returned no photos")
	}
	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

// WallPost publishes a post on the community wall.
func (c *Client) WallPost(ctx context.Context, groupID int64, message string, attachments []string) error {
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(-groupID, 10))
	params.Set("from_group", "1")
	params.Set("message", message)
	if len(attachments) > 0 {
		params.Set("attachments", strings.Join(attachments, ","))
	}

	var resp struct {
		PostID int64 `json:"post_id"`
	}
	if err := c.call(ctx, "wall.post", params, &resp); err != nil {
		return err
	}
	c.log.Debug("wall post published",
		logx.Int64("group_id", groupID), logx.Int64("post_id", resp.PostID))
	return nil
}
