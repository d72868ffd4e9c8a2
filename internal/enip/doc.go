// Package enip is a small EtherNet/IP originator: enough of the encapsulation
// protocol and CIP to register a session, read and write single attributes,
// open and close a class 1 I/O connection and exchange connected datagrams.
//
// Explicit messages travel over TCP (port 44818):
//
//	encapsulation header (24 bytes)
//	└── SendRRData: interface handle, timeout, CPF packet
//	    ├── null address item (0x0000)
//	    └── unconnected data item (0x00B2): CIP message router request/response
//
// Connected I/O travels over UDP (port 2222) as bare CPF packets:
//
//	├── sequenced address item (0x8002): connection id, sequence number
//	└── connected data item (0x00B1): application payload
//
// All integers on the wire are little-endian.
package enip
