package broker

import "fmt"

// c.prefix namespaces every key this broker touches (spec.md §4.4).
func (c *Client) inputKey(session string) string         { return fmt.Sprintf("%s%s:input", c.prefix, session) }
func (c *Client) outputChannel(session string) string    { return fmt.Sprintf("%s%s:output", c.prefix, session) }
func (c *Client) outputBufferKey(session string) string  { return fmt.Sprintf("%s%s:output_buffer", c.prefix, session) }
func (c *Client) stateKey(session string) string         { return fmt.Sprintf("%s%s:state", c.prefix, session) }
func (c *Client) resultKey(session string) string        { return fmt.Sprintf("%s%s:result", c.prefix, session) }
func (c *Client) controlChannel(session string) string   { return fmt.Sprintf("%s%s:control", c.prefix, session) }
func (c *Client) interruptQueueKey(session string) string {
	return fmt.Sprintf("%s%s:interrupt_queue", c.prefix, session)
}
