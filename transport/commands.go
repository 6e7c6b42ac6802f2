package transport

// CommandNames is the wire command catalogue (spec.md §6 "Command
// catalogue"), in a stable order so CommandTable ids stay consistent
// across builds. Names are preserved verbatim for wire compatibility.
// gbar_create/gbar_destroy supplement the distilled catalogue: the source
// program's master_gbar_create/master_gbar_destroy are the actual trigger
// for glance-bar open/close gating (spec.md §4.5 rule 6, §8 property 5),
// which the distillation only alluded to via close_gbar's outbound side.
var CommandNames = []string{
	"new", "renew", "delete", "resize", "set_period", "change_group",
	"update_content", "pinup", "clicked", "text_signal", "script",
	"pause", "resume", "widget_pause", "widget_resume", "update_mode",
	"orientation", "ctrl_mode", "disconnect", "viewer_connected",
	"viewer_disconnected", "gbar_create", "gbar_destroy",

	"widget_mouse_down", "widget_mouse_up", "widget_mouse_move",
	"widget_mouse_enter", "widget_mouse_leave", "widget_mouse_set",
	"widget_mouse_unset", "widget_mouse_on_scroll", "widget_mouse_off_scroll",
	"widget_mouse_on_hold", "widget_mouse_off_hold",
	"gbar_mouse_down", "gbar_mouse_up", "gbar_mouse_move",
	"gbar_mouse_enter", "gbar_mouse_leave", "gbar_mouse_set",
	"gbar_mouse_unset", "gbar_mouse_on_scroll", "gbar_mouse_off_scroll",
	"gbar_mouse_on_hold", "gbar_mouse_off_hold",
	"widget_key_down", "widget_key_up", "widget_key_focus_in", "widget_key_focus_out",
	"gbar_key_down", "gbar_key_up", "gbar_key_focus_in", "gbar_key_focus_out",
	"widget_access_action", "widget_access_scroll", "widget_access_value_change",
	"widget_access_mouse", "widget_access_back", "widget_access_over", "widget_access_read",
	"gbar_access_action", "gbar_access_scroll", "gbar_access_value_change",
	"gbar_access_mouse", "gbar_access_back", "gbar_access_over", "gbar_access_read",

	"hello", "hello_sync_prepare", "hello_sync",
	"ping",
	"updated", "desc_updated", "extra_updated", "extra_info",
	"widget_update_begin", "widget_update_end", "gbar_update_begin", "gbar_update_end",
	"deleted", "faulted", "scroll", "access_status", "key_status", "close_gbar",
	"ctrl", "call", "ret",
	"acquire_buffer", "acquire_xbuffer", "release_buffer", "release_xbuffer", "resize_buffer",
	"direct_connected",
}

// DefaultCommandTable is the process-wide command table built from
// CommandNames.
var DefaultCommandTable = NewCommandTable(CommandNames)
