// Package wire defines the LocalSync frame format.
//
// Every message on the TLS stream is one self-delimited frame:
//
//	byte 0     flags
//	bytes 1..4 int32 length, little-endian
//	bytes 5..  payload, exactly length bytes, only when the ACK bit is clear
//
// Flag bits:
//
//	bit 0  frame marker, always set
//	bit 1  acknowledgement; no payload follows and length carries the
//	       length of the acknowledged frame
//	bit 2  pairing frame
//	bit 3  error
//
// The codec is stateless and only ever operates on one fully assembled
// frame. Reassembly of fragmented reads lives in the transport package.
package wire
