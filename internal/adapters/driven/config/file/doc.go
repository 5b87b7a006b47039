// Package file keeps user-editable state under ~/.mizan: the TOML settings
// file behind ConfigStore and the answer prompts behind PromptStore.
package file
