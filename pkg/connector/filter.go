// Copyright 2024-2026 Aiku AI

package connector

import "github.com/aiku/wechat-tg-bridge/pkg/settings"

// AllowGroupMessage applies the notification policy to a group message. In
// blacklist mode listed groups are dropped. In whitelist mode only listed
// groups pass, unless the message mentions the logged-in account.
func AllowGroupMessage(policy settings.Settings, groupName string, mentionsSelf bool) bool {
	if policy.NotificationMode == settings.ModeWhitelist {
		return mentionsSelf || policy.ListContains(settings.ModeWhitelist, groupName)
	}
	return !policy.ListContains(settings.ModeBlacklist, groupName)
}
