/*
Package hosts edits the local hosts file to pin service hostnames to
chosen addresses.

Writer.Apply performs the whole edit as one transaction:

 1. refuse immediately without elevated privileges (types.ErrPermission)
 2. copy the current file to <BackupDir>/hosts_<timestamp>.bak when asked;
    a failed backup is logged and the edit continues
 3. decode with the first encoding that round-trips: UTF-8, UTF-8 with
    BOM, UTF-16 with BOM, GBK; otherwise decode lossily and write UTF-8
 4. drop every non-comment line naming a managed hostname or containing
    the cleanup keyword, then append "ip<TAB>hostname" per mapping entry
 5. re-encode and write the full content in a single call
 6. flush the resolver cache through the Flusher; its outcome is ignored

Comment lines, blank lines and unrelated mappings are kept byte for byte,
and CRLF files stay CRLF.

Current reads back what the managed hostnames map to, Backups lists the
backup files newest first and Restore copies one of them back.
*/
package hosts
